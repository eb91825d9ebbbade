package protocol

import (
	"errors"

	"github.com/bitly/go-simplejson"

	ws "github.com/fr0ster/turbo-speech/web_socket"
)

const AudioStreamingName = "audio-streaming"

// AudioStreamingHandler speaks the text-to-speech input streaming protocol.
// Every frame is unsolicited; there are no ids, topics or heartbeats.
type AudioStreamingHandler struct{}

var _ ws.ProtocolHandler = AudioStreamingHandler{}

func (AudioStreamingHandler) Name() string { return AudioStreamingName }

func (AudioStreamingHandler) Classify(msg ws.WireMessage) (ws.MessageKind, error) {
	switch msg.Type {
	case ws.WireControl:
		return ws.MessageKind{Class: ws.KindControl}, nil
	case ws.WireBinary:
		return ws.MessageKind{Class: ws.KindUnsolicited}, nil
	}
	if _, err := decodeObject(msg.Payload); err != nil {
		return ws.MessageKind{}, err
	}
	return ws.MessageKind{Class: ws.KindUnsolicited}, nil
}

func (AudioStreamingHandler) CorrelationID(ws.WireMessage) (string, bool) { return "", false }

func (AudioStreamingHandler) Topic(ws.WireMessage) (string, bool) { return "", false }

func (AudioStreamingHandler) BuildSubscribe(string) ws.WireMessage { return ws.TextMessage("{}") }

func (AudioStreamingHandler) BuildUnsubscribe(string) ws.WireMessage { return ws.TextMessage("{}") }

func (AudioStreamingHandler) IsHeartbeatProbe(ws.WireMessage) bool { return false }

func (AudioStreamingHandler) BuildHeartbeatReply(ws.WireMessage) (ws.WireMessage, bool) {
	return ws.WireMessage{}, false
}

func (AudioStreamingHandler) HeartbeatPolicy() ws.HeartbeatPolicy { return ws.HeartbeatAutoReply }

var errNotObject = errors.New("frame is not a JSON object")

func decodeObject(payload []byte) (*simplejson.Json, error) {
	js, err := simplejson.NewJson(payload)
	if err != nil {
		return nil, err
	}
	if _, err := js.Map(); err != nil {
		return nil, errNotObject
	}
	return js, nil
}
