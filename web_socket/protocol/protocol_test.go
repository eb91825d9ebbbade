package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/fr0ster/turbo-speech/web_socket"
	"github.com/fr0ster/turbo-speech/web_socket/protocol"
)

func TestAudioStreamingClassify(t *testing.T) {
	h := protocol.AudioStreamingHandler{}

	kind, err := h.Classify(ws.TextMessage(`{"audio":"AAAA","isFinal":null}`))
	require.NoError(t, err)
	assert.Equal(t, ws.KindUnsolicited, kind.Class)

	kind, err = h.Classify(ws.WireMessage{Type: ws.WireControl, Control: ws.ControlPing})
	require.NoError(t, err)
	assert.Equal(t, ws.KindControl, kind.Class)

	_, err = h.Classify(ws.TextMessage(`not json`))
	assert.Error(t, err)
	_, err = h.Classify(ws.TextMessage(`[1,2,3]`))
	assert.Error(t, err)
}

func TestAudioStreamingHasNoHeartbeat(t *testing.T) {
	h := protocol.AudioStreamingHandler{}
	msg := ws.TextMessage(`{"type":"ping","ping_event":{"event_id":1}}`)

	assert.False(t, h.IsHeartbeatProbe(msg))
	_, ok := h.BuildHeartbeatReply(msg)
	assert.False(t, ok)
	_, ok = h.CorrelationID(msg)
	assert.False(t, ok)
	_, ok = h.Topic(msg)
	assert.False(t, ok)
	assert.Equal(t, protocol.AudioStreamingName, h.Name())
}

func TestEventStreamingClassify(t *testing.T) {
	h := protocol.EventStreamingHandler{}
	tests := []struct {
		name    string
		msg     ws.WireMessage
		class   ws.MessageClass
		wantErr bool
	}{
		{"agent response", ws.TextMessage(`{"type":"agent_response","agent_response_event":{"agent_response":"hi"}}`), ws.KindUnsolicited, false},
		{"ping", ws.TextMessage(`{"type":"ping","ping_event":{"event_id":7}}`), ws.KindControl, false},
		{"unknown type", ws.TextMessage(`{"type":"something_new"}`), ws.KindUnsolicited, false},
		{"missing type", ws.TextMessage(`{"audio":"x"}`), 0, true},
		{"non-string type", ws.TextMessage(`{"type":5}`), 0, true},
		{"not json", ws.TextMessage(`hello`), 0, true},
		{"binary", ws.BinaryMessage([]byte{1, 2}), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := h.Classify(tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.class, kind.Class)
		})
	}
}

func TestEventStreamingHeartbeat(t *testing.T) {
	ping := ws.TextMessage(`{"type":"ping","ping_event":{"event_id":42,"ping_ms":50}}`)

	passThrough := protocol.EventStreamingHandler{}
	assert.True(t, passThrough.IsHeartbeatProbe(ping))
	assert.False(t, passThrough.IsHeartbeatProbe(ws.TextMessage(`{"type":"pong","event_id":42}`)))
	assert.Equal(t, ws.HeartbeatPassThrough, passThrough.HeartbeatPolicy())

	reply, ok := passThrough.BuildHeartbeatReply(ping)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"pong","event_id":42}`, string(reply.Payload))
	assert.Equal(t, ws.WireText, reply.Type)

	_, ok = passThrough.BuildHeartbeatReply(ws.TextMessage(`{"type":"ping"}`))
	assert.False(t, ok)

	assert.Equal(t, ws.HeartbeatAutoReply, protocol.EventStreamingHandler{AutoPong: true}.HeartbeatPolicy())
}

func TestPingEventID(t *testing.T) {
	id, ok := protocol.PingEventID([]byte(`{"type":"ping","ping_event":{"event_id":3}}`))
	assert.True(t, ok)
	assert.Equal(t, 3, id)

	_, ok = protocol.PingEventID([]byte(`{"type":"ping","ping_event":{}}`))
	assert.False(t, ok)
}
