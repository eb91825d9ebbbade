package web_socket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/metrics"
	"github.com/fr0ster/turbo-speech/web_socket/strategy"
)

const writeWait = time.Second

// ConnectionHandle is the sending side of a connection. It is safe for
// concurrent use; writes are serialized.
type ConnectionHandle struct {
	sock    Socket
	handler ProtocolHandler

	state   atomic.Int32
	writeMu sync.Mutex
	closeMu sync.Mutex
	loop    tomb.Tomb
	events  chan Event

	done       chan struct{}
	doneOnce   sync.Once
	finishOnce sync.Once
	reasonMu   sync.Mutex
	reason     error

	pendingMu sync.Mutex
	pending   map[string]chan WireMessage
	topicsMu  sync.Mutex
	topics    map[string]struct{}

	strategy strategy.ReadStrategy
	logger   logrus.FieldLogger
	observer metrics.ConnectionObserver
	grace    time.Duration

	logMu     sync.RWMutex
	msgLogger func(LogRecord)
}

type pingHandlerSetter interface {
	SetPingHandler(h func(appData string) error)
}

func newConnection(sock Socket, handler ProtocolHandler, o options) (*ConnectionHandle, *ConnectionStream) {
	h := &ConnectionHandle{
		sock:     sock,
		handler:  handler,
		events:   make(chan Event, o.bufferSize),
		done:     make(chan struct{}),
		pending:  make(map[string]chan WireMessage),
		topics:   make(map[string]struct{}),
		strategy: o.strategy,
		logger:   o.logger.WithField("protocol", handler.Name()),
		observer: o.observer,
		grace:    o.gracePeriod,
	}
	h.state.Store(int32(StateOpen))
	if p, ok := sock.(pingHandlerSetter); ok {
		p.SetPingHandler(h.transportPing)
	}
	h.loop.Go(h.readLoop)
	h.observer.ObserveConnection(handler.Name(), "open")
	h.logMessage(LogRecord{Op: OpConnect})
	return h, &ConnectionStream{h: h}
}

func (h *ConnectionHandle) State() State {
	return State(h.state.Load())
}

// CloseReason is nil while the connection is open.
func (h *ConnectionHandle) CloseReason() error {
	h.reasonMu.Lock()
	defer h.reasonMu.Unlock()
	return h.reason
}

func (h *ConnectionHandle) Protocol() string {
	return h.handler.Name()
}

// SetMessageLogger installs a hook that sees every frame in both directions.
func (h *ConnectionHandle) SetMessageLogger(f func(LogRecord)) {
	h.logMu.Lock()
	h.msgLogger = f
	h.logMu.Unlock()
}

func (h *ConnectionHandle) logMessage(rec LogRecord) {
	h.logMu.RLock()
	f := h.msgLogger
	h.logMu.RUnlock()
	if f != nil {
		f(rec)
	}
}

// Send writes one frame. It fails with a ConnectionClosed error unless the
// connection is Open.
func (h *ConnectionHandle) Send(msg WireMessage) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.State() != StateOpen {
		return api_errors.ConnectionClosed(h.CloseReason())
	}
	var err error
	if msg.Type == WireControl {
		err = h.sock.WriteControl(msg.frameType(), msg.Payload, time.Now().Add(writeWait))
	} else {
		err = h.sock.WriteMessage(msg.frameType(), msg.Payload)
	}
	h.logMessage(LogRecord{Op: OpSend, Body: msg.Payload, Err: err})
	if err != nil {
		h.logger.WithError(err).Warn("write failed")
		return api_errors.Wrap(api_errors.KindConnectionClosed, "write failed", err)
	}
	h.observer.ObserveFrame(h.handler.Name(), "out")
	return nil
}

func (h *ConnectionHandle) SendText(s string) error {
	return h.Send(TextMessage(s))
}

func (h *ConnectionHandle) SendJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return api_errors.Wrap(api_errors.KindDecode, "error encoding frame", err)
	}
	return h.Send(WireMessage{Type: WireText, Payload: body})
}

// Call sends the frame produced by build and waits for the response the
// protocol correlates with the generated id. The response is not surfaced
// on the stream.
func (h *ConnectionHandle) Call(ctx context.Context, build func(id string) WireMessage) (WireMessage, error) {
	id := uuid.NewString()
	ch := make(chan WireMessage, 1)
	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	if err := h.Send(build(id)); err != nil {
		return WireMessage{}, err
	}
	select {
	case msg := <-ch:
		return msg, nil
	case <-h.done:
		return WireMessage{}, api_errors.ConnectionClosed(h.CloseReason())
	case <-ctx.Done():
		return WireMessage{}, api_errors.Wrap(api_errors.KindCanceled, "waiting for response "+id, ctx.Err())
	}
}

func (h *ConnectionHandle) resolve(id string, msg WireMessage) bool {
	if id == "" {
		return false
	}
	h.pendingMu.Lock()
	ch, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (h *ConnectionHandle) Subscribe(topic string) error {
	if err := h.Send(h.handler.BuildSubscribe(topic)); err != nil {
		return err
	}
	h.topicsMu.Lock()
	h.topics[topic] = struct{}{}
	h.topicsMu.Unlock()
	h.logMessage(LogRecord{Op: OpSubscribe, Body: []byte(topic)})
	return nil
}

func (h *ConnectionHandle) Unsubscribe(topic string) error {
	if err := h.Send(h.handler.BuildUnsubscribe(topic)); err != nil {
		return err
	}
	h.topicsMu.Lock()
	delete(h.topics, topic)
	h.topicsMu.Unlock()
	h.logMessage(LogRecord{Op: OpUnsubscribe, Body: []byte(topic)})
	return nil
}

// Topics returns the active subscriptions, sorted.
func (h *ConnectionHandle) Topics() []string {
	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()
	out := make([]string, 0, len(h.topics))
	for t := range h.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Close sends a close frame, waits for the peer to answer or the grace
// period to pass, then drops the socket. Calling it again is a no-op.
func (h *ConnectionHandle) Close() error {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if !h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		h.finish()
		<-h.loop.Dead()
		return nil
	}
	h.setReason(api_errors.New(api_errors.KindConnectionClosed, "closed by client"))
	h.markDone()
	h.logMessage(LogRecord{Op: OpClose})

	if err := h.writeClose(websocket.CloseNormalClosure, ""); err != nil {
		h.logger.WithError(err).Debug("close frame not sent")
	} else {
		select {
		case <-h.loop.Dead():
		case <-time.After(h.grace):
			h.logger.WithField("grace", h.grace).Debug("peer did not acknowledge close")
		}
	}
	h.loop.Kill(nil)
	h.finish()
	<-h.loop.Dead()
	return nil
}

func (h *ConnectionHandle) writeClose(code int, text string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// setReason keeps the first reason only.
func (h *ConnectionHandle) setReason(err error) {
	h.reasonMu.Lock()
	if h.reason == nil {
		h.reason = err
	}
	h.reasonMu.Unlock()
}

func (h *ConnectionHandle) markDone() {
	h.doneOnce.Do(func() { close(h.done) })
}

// finish moves to Closed and releases the socket.
func (h *ConnectionHandle) finish() {
	h.finishOnce.Do(func() {
		h.markDone()
		h.state.Store(int32(StateClosed))
		if err := h.sock.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			h.logger.WithError(err).Debug("socket close")
		}
		h.observer.ObserveConnection(h.handler.Name(), "closed")
		h.logger.WithField("reason", h.CloseReason()).Debug("connection closed")
	})
}

// abort tears the connection down from inside the read loop.
func (h *ConnectionHandle) abort(reason error, code int) {
	h.setReason(reason)
	h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	h.markDone()
	_ = h.writeClose(code, "")
	h.finish()
}

func (h *ConnectionHandle) transportPing(data string) error {
	h.logMessage(LogRecord{Op: OpPing, Body: []byte(data)})
	err := h.sock.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	if err == nil {
		h.logMessage(LogRecord{Op: OpPong, Body: []byte(data)})
		return nil
	}
	var netErr net.Error
	if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil
	}
	return err
}

func (h *ConnectionHandle) autoReply(probe WireMessage) {
	h.logMessage(LogRecord{Op: OpPing, Body: probe.Payload})
	reply, ok := h.handler.BuildHeartbeatReply(probe)
	if !ok {
		return
	}
	if err := h.Send(reply); err != nil {
		h.logger.WithError(err).Debug("heartbeat reply not sent")
		return
	}
	h.logMessage(LogRecord{Op: OpPong, Body: reply.Payload})
}

func (h *ConnectionHandle) readLoop() error {
	name := h.handler.Name()
	for {
		frameType, payload, err := h.sock.ReadMessage()
		h.logMessage(LogRecord{Op: OpReceive, Body: payload, Err: err})
		if err != nil {
			h.onReadError(err)
			return nil
		}
		h.observer.ObserveFrame(name, "in")
		msg := wireFromFrame(frameType, payload)

		if h.handler.IsHeartbeatProbe(msg) && h.handler.HeartbeatPolicy() == HeartbeatAutoReply {
			h.autoReply(msg)
			continue
		}

		kind, err := h.handler.Classify(msg)
		if err != nil {
			violation := api_errors.Wrap(api_errors.KindProtocolViolation, name+" frame rejected", err)
			h.logger.WithError(err).Warn("protocol violation")
			if !h.push(Event{Type: EventViolation, Message: msg, Err: violation}) {
				return nil
			}
			if h.strategy.OnViolation() {
				h.logger.Error("too many protocol violations, closing connection")
				h.abort(violation, websocket.ClosePolicyViolation)
				return nil
			}
			continue
		}
		h.strategy.OnFrame()

		if kind.Class == KindCorrelatedResponse && h.resolve(kind.ID, msg) {
			continue
		}
		if !h.push(Event{Type: EventMessage, Message: msg, Kind: kind}) {
			return nil
		}
	}
}

func (h *ConnectionHandle) push(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.loop.Dying():
		return false
	}
}

func (h *ConnectionHandle) onReadError(err error) {
	local := h.State() != StateOpen
	switch {
	case local:
		h.logMessage(LogRecord{Op: OpClose, Err: err})
		h.setReason(api_errors.Wrap(api_errors.KindConnectionClosed, "closed by client", err))
	case h.strategy.OnReadError(err):
		h.logMessage(LogRecord{Op: OpClose, Err: err})
		h.logger.WithError(err).Debug("connection closed by peer")
		h.setReason(api_errors.Wrap(api_errors.KindConnectionClosed, "closed by peer", err))
	default:
		h.logMessage(LogRecord{Op: OpError, Err: err})
		h.logger.WithError(err).Error("connection lost")
		h.setReason(api_errors.Wrap(api_errors.KindConnectionClosed, "connection lost", err))
	}
	h.finish()
}
