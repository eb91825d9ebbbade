package web_socket

import (
	"fmt"

	"github.com/gorilla/websocket"
)

type WireType int

const (
	WireText WireType = iota
	WireBinary
	WireControl
)

type ControlKind int

const (
	ControlNone ControlKind = iota
	ControlPing
	ControlPong
	ControlClose
)

// WireMessage is one frame as it travels over the socket.
type WireMessage struct {
	Type    WireType
	Payload []byte
	// Control is set only when Type is WireControl.
	Control ControlKind
}

func TextMessage(s string) WireMessage {
	return WireMessage{Type: WireText, Payload: []byte(s)}
}

func BinaryMessage(b []byte) WireMessage {
	return WireMessage{Type: WireBinary, Payload: b}
}

func (m WireMessage) frameType() int {
	switch m.Type {
	case WireBinary:
		return websocket.BinaryMessage
	case WireControl:
		switch m.Control {
		case ControlPing:
			return websocket.PingMessage
		case ControlPong:
			return websocket.PongMessage
		case ControlClose:
			return websocket.CloseMessage
		}
	}
	return websocket.TextMessage
}

func wireFromFrame(frameType int, payload []byte) WireMessage {
	switch frameType {
	case websocket.BinaryMessage:
		return WireMessage{Type: WireBinary, Payload: payload}
	case websocket.PingMessage:
		return WireMessage{Type: WireControl, Control: ControlPing, Payload: payload}
	case websocket.PongMessage:
		return WireMessage{Type: WireControl, Control: ControlPong, Payload: payload}
	case websocket.CloseMessage:
		return WireMessage{Type: WireControl, Control: ControlClose, Payload: payload}
	}
	return WireMessage{Type: WireText, Payload: payload}
}

type MessageClass int

const (
	KindCorrelatedResponse MessageClass = iota
	KindTopicEvent
	KindUnsolicited
	KindControl
)

func (c MessageClass) String() string {
	switch c {
	case KindCorrelatedResponse:
		return "correlated"
	case KindTopicEvent:
		return "topic"
	case KindUnsolicited:
		return "unsolicited"
	case KindControl:
		return "control"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// MessageKind is what a ProtocolHandler says about an inbound frame.
// ID is set for correlated responses, Topic for topic events.
type MessageKind struct {
	Class MessageClass
	ID    string
	Topic string
}

type HeartbeatPolicy int

const (
	// HeartbeatAutoReply answers probes inside the read loop and hides them.
	HeartbeatAutoReply HeartbeatPolicy = iota
	// HeartbeatPassThrough surfaces probes to the consumer, who must reply.
	HeartbeatPassThrough
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Logging operations

type LogOp string

const (
	OpConnect     LogOp = "connect"
	OpSend        LogOp = "send"
	OpReceive     LogOp = "receive"
	OpError       LogOp = "error"
	OpClose       LogOp = "close"
	OpSubscribe   LogOp = "subscribe"
	OpUnsubscribe LogOp = "unsubscribe"
	OpPing        LogOp = "ping"
	OpPong        LogOp = "pong"
)

type LogRecord struct {
	Op   LogOp
	Body []byte
	Err  error
}

type EventType int

const (
	EventMessage EventType = iota
	EventViolation
	EventError
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventViolation:
		return "violation"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one item of a ConnectionStream. Err carries the violation for
// EventViolation, the failure for EventError and the close reason for
// EventClosed.
type Event struct {
	Type    EventType
	Message WireMessage
	Kind    MessageKind
	Err     error
}
