package web_socket

import (
	"time"
)

// --- Protocol plug-in ---

// ProtocolHandler teaches the connection manager one wire protocol. The
// manager never inspects payloads itself.
type ProtocolHandler interface {
	Name() string
	// Classify fails for frames the protocol cannot make sense of; the
	// connection reports those as violations.
	Classify(msg WireMessage) (MessageKind, error)
	CorrelationID(msg WireMessage) (string, bool)
	Topic(msg WireMessage) (string, bool)
	BuildSubscribe(topic string) WireMessage
	BuildUnsubscribe(topic string) WireMessage
	IsHeartbeatProbe(msg WireMessage) bool
	BuildHeartbeatReply(probe WireMessage) (WireMessage, bool)
	HeartbeatPolicy() HeartbeatPolicy
}

// --- Support interfaces for socket-level access ---

type WebApiReader interface {
	ReadMessage() (int, []byte, error)
}

type WebApiWriter interface {
	WriteMessage(messageType int, data []byte) error
}

type ControlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Socket is the physical connection. *websocket.Conn satisfies it.
// Close must unblock a pending ReadMessage.
type Socket interface {
	WebApiReader
	WebApiWriter
	ControlWriter
	Close() error
}
