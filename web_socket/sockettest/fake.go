// Package sockettest provides an in-memory web_socket.Socket that records
// every frame written to it.
package sockettest

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Frame struct {
	Type int
	Data []byte
}

type inbound struct {
	frame Frame
	err   error
}

type FakeSocket struct {
	// EchoClose makes the fake answer our close frame like a well-behaved peer.
	EchoClose bool
	// WriteErr, when set, fails every data write.
	WriteErr error

	mu        sync.Mutex
	written   []Frame
	in        chan inbound
	closed    chan struct{}
	closeOnce sync.Once
}

func New() *FakeSocket {
	return &FakeSocket{
		EchoClose: true,
		in:        make(chan inbound, 256),
		closed:    make(chan struct{}),
	}
}

func (f *FakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case <-f.closed:
		return 0, nil, fmt.Errorf("read: %w", net.ErrClosed)
	default:
	}
	select {
	case msg := <-f.in:
		if msg.err != nil {
			return 0, nil, msg.err
		}
		return msg.frame.Type, msg.frame.Data, nil
	case <-f.closed:
		return 0, nil, fmt.Errorf("read: %w", net.ErrClosed)
	}
}

func (f *FakeSocket) WriteMessage(messageType int, data []byte) error {
	if f.IsClosed() {
		return fmt.Errorf("write: %w", net.ErrClosed)
	}
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.record(Frame{Type: messageType, Data: append([]byte(nil), data...)})
	return nil
}

func (f *FakeSocket) WriteControl(messageType int, data []byte, _ time.Time) error {
	if f.IsClosed() {
		return fmt.Errorf("write: %w", net.ErrClosed)
	}
	f.record(Frame{Type: messageType, Data: append([]byte(nil), data...)})
	if messageType == websocket.CloseMessage && f.EchoClose {
		f.PeerClose(websocket.CloseNormalClosure)
	}
	return nil
}

func (f *FakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeSocket) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *FakeSocket) record(fr Frame) {
	f.mu.Lock()
	f.written = append(f.written, fr)
	f.mu.Unlock()
}

// Deliver queues an inbound frame.
func (f *FakeSocket) Deliver(messageType int, data []byte) {
	f.in <- inbound{frame: Frame{Type: messageType, Data: data}}
}

func (f *FakeSocket) DeliverText(s string) {
	f.Deliver(websocket.TextMessage, []byte(s))
}

// Fail makes the next read return err.
func (f *FakeSocket) Fail(err error) {
	f.in <- inbound{err: err}
}

// PeerClose makes the next read report a close frame from the peer.
func (f *FakeSocket) PeerClose(code int) {
	f.in <- inbound{err: &websocket.CloseError{Code: code}}
}

func (f *FakeSocket) Written() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.written))
	copy(out, f.written)
	return out
}

// TextFrames returns the payloads of written text frames, in order.
func (f *FakeSocket) TextFrames() []string {
	var out []string
	for _, fr := range f.Written() {
		if fr.Type == websocket.TextMessage {
			out = append(out, string(fr.Data))
		}
	}
	return out
}

// CloseCode returns the code of the first close frame written, or 0.
func (f *FakeSocket) CloseCode() int {
	for _, fr := range f.Written() {
		if fr.Type == websocket.CloseMessage && len(fr.Data) >= 2 {
			return int(fr.Data[0])<<8 | int(fr.Data[1])
		}
	}
	return 0
}

// WaitWritten polls until at least n frames were written.
func (f *FakeSocket) WaitWritten(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(f.Written()) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(f.Written()) >= n
}
