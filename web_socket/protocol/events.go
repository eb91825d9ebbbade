package protocol

import (
	"errors"
	"fmt"

	"github.com/bitly/go-simplejson"

	ws "github.com/fr0ster/turbo-speech/web_socket"
)

const (
	EventStreamingName = "event-streaming"

	TypePing = "ping"
	TypePong = "pong"
)

// EventStreamingHandler speaks the conversational event protocol: JSON
// objects tagged by "type". Pings are surfaced to the caller unless
// AutoPong is set.
type EventStreamingHandler struct {
	AutoPong bool
}

var _ ws.ProtocolHandler = EventStreamingHandler{}

func (EventStreamingHandler) Name() string { return EventStreamingName }

func (EventStreamingHandler) Classify(msg ws.WireMessage) (ws.MessageKind, error) {
	switch msg.Type {
	case ws.WireControl:
		return ws.MessageKind{Class: ws.KindControl}, nil
	case ws.WireBinary:
		return ws.MessageKind{}, errors.New("binary frames are not part of the event protocol")
	}
	typ, err := EventType(msg.Payload)
	if err != nil {
		return ws.MessageKind{}, err
	}
	if typ == TypePing {
		return ws.MessageKind{Class: ws.KindControl}, nil
	}
	return ws.MessageKind{Class: ws.KindUnsolicited}, nil
}

func (EventStreamingHandler) CorrelationID(ws.WireMessage) (string, bool) { return "", false }

func (EventStreamingHandler) Topic(ws.WireMessage) (string, bool) { return "", false }

func (EventStreamingHandler) BuildSubscribe(string) ws.WireMessage { return ws.TextMessage("{}") }

func (EventStreamingHandler) BuildUnsubscribe(string) ws.WireMessage { return ws.TextMessage("{}") }

func (EventStreamingHandler) IsHeartbeatProbe(msg ws.WireMessage) bool {
	if msg.Type != ws.WireText {
		return false
	}
	typ, err := EventType(msg.Payload)
	return err == nil && typ == TypePing
}

func (EventStreamingHandler) BuildHeartbeatReply(probe ws.WireMessage) (ws.WireMessage, bool) {
	id, ok := PingEventID(probe.Payload)
	if !ok {
		return ws.WireMessage{}, false
	}
	return PongFrame(id), true
}

func (h EventStreamingHandler) HeartbeatPolicy() ws.HeartbeatPolicy {
	if h.AutoPong {
		return ws.HeartbeatAutoReply
	}
	return ws.HeartbeatPassThrough
}

// EventType returns the "type" tag of an event frame.
func EventType(payload []byte) (string, error) {
	js, err := decodeObject(payload)
	if err != nil {
		return "", err
	}
	typ, err := js.Get("type").String()
	if err != nil || typ == "" {
		return "", fmt.Errorf("event frame has no type")
	}
	return typ, nil
}

// PingEventID extracts ping_event.event_id from a ping frame.
func PingEventID(payload []byte) (int, bool) {
	js, err := simplejson.NewJson(payload)
	if err != nil {
		return 0, false
	}
	id, err := js.GetPath("ping_event", "event_id").Int()
	if err != nil {
		return 0, false
	}
	return id, true
}

// PongFrame answers the ping carrying eventID.
func PongFrame(eventID int) ws.WireMessage {
	js := simplejson.New()
	js.Set("type", TypePong)
	js.Set("event_id", eventID)
	body, _ := js.MarshalJSON()
	return ws.WireMessage{Type: ws.WireText, Payload: body}
}
