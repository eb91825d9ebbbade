package web_stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"sync"

	"github.com/bitly/go-simplejson"
	"github.com/sirupsen/logrus"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/config"
	"github.com/fr0ster/turbo-speech/rest_api"
	utils "github.com/fr0ster/turbo-speech/utils/json"
	ws "github.com/fr0ster/turbo-speech/web_socket"
	"github.com/fr0ster/turbo-speech/web_socket/protocol"
)

const (
	TypeInitiationMetadata = "conversation_initiation_metadata"
	TypeAudio              = "audio"
	TypeAgentResponse      = "agent_response"
	TypeUserTranscript     = "user_transcript"
	TypeInterruption       = "interruption"
	TypePing               = protocol.TypePing
	TypePong               = protocol.TypePong

	TypeUserAudioChunk   = "user_audio_chunk"
	TypeUserMessage      = "user_message"
	TypeContextualUpdate = "contextual_update"
	TypeUserActivity     = "user_activity"
)

// ConversationEvent is one inbound conversation frame. Callers switch on
// the concrete type.
type ConversationEvent interface {
	EventType() string
}

type InitiationMetadata struct {
	// Metadata is the frame minus its type tag.
	Metadata map[string]any
}

func (InitiationMetadata) EventType() string { return TypeInitiationMetadata }

// ConversationID is empty when the server did not send one.
func (m InitiationMetadata) ConversationID() string {
	if inner, ok := m.Metadata["conversation_initiation_metadata_event"].(map[string]any); ok {
		if id, ok := inner["conversation_id"].(string); ok {
			return id
		}
	}
	id, _ := m.Metadata["conversation_id"].(string)
	return id
}

type AudioEvent struct {
	// Chunk is base64 encoded; see Bytes.
	Chunk   string
	EventID int
}

func (AudioEvent) EventType() string { return TypeAudio }

func (a AudioEvent) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(a.Chunk)
	if err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, "audio chunk is not valid base64", err)
	}
	return b, nil
}

type AgentResponse struct {
	Text string
}

func (AgentResponse) EventType() string { return TypeAgentResponse }

type UserTranscript struct {
	Text string
}

func (UserTranscript) EventType() string { return TypeUserTranscript }

type Interruption struct {
	Data map[string]any
}

func (Interruption) EventType() string { return TypeInterruption }

type Ping struct {
	EventID int
	// PingMs is the server-measured latency, zero when absent.
	PingMs int
	Raw    []byte
}

func (Ping) EventType() string { return TypePing }

type Pong struct {
	Data map[string]any
}

func (Pong) EventType() string { return TypePong }

// UnknownEvent carries any type this package does not model.
type UnknownEvent struct {
	Type string
	Raw  []byte
}

func (u UnknownEvent) EventType() string { return u.Type }

// stripType returns the frame body without its "type" key.
func stripType(js *simplejson.Json) map[string]any {
	m, err := js.Map()
	if err != nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != "type" {
			out[k] = v
		}
	}
	return out
}

// firstString returns the first non-empty string found at the given paths.
func firstString(js *simplejson.Json, paths ...[]string) (string, bool) {
	for _, p := range paths {
		if s, err := js.GetPath(p...).String(); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

func decodeConversationEvent(payload []byte) (ConversationEvent, error) {
	typ, err := protocol.EventType(payload)
	if err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, "invalid conversation frame", err)
	}
	js, err := utils.NewJSON(payload)
	if err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, "invalid conversation frame", err)
	}
	missing := func(field string) error {
		return &api_errors.Error{
			Kind:    api_errors.KindDecode,
			Message: typ + " frame is missing " + field,
			Body:    payload,
		}
	}

	switch typ {
	case TypeInitiationMetadata:
		return InitiationMetadata{Metadata: stripType(js)}, nil
	case TypeAudio:
		chunk, ok := firstString(js,
			[]string{"audio", "chunk"},
			[]string{"audio_event", "audio_base_64"})
		if !ok {
			return nil, missing("audio chunk")
		}
		return AudioEvent{Chunk: chunk, EventID: js.GetPath("audio_event", "event_id").MustInt()}, nil
	case TypeAgentResponse:
		text, ok := firstString(js,
			[]string{"agent_response_text"},
			[]string{"agent_response_event", "agent_response"})
		if !ok {
			return nil, missing("agent response text")
		}
		return AgentResponse{Text: text}, nil
	case TypeUserTranscript:
		text, ok := firstString(js,
			[]string{"user_transcript_text"},
			[]string{"user_transcription_event", "user_transcript"})
		if !ok {
			return nil, missing("user transcript text")
		}
		return UserTranscript{Text: text}, nil
	case TypeInterruption:
		return Interruption{Data: stripType(js)}, nil
	case TypePing:
		id, ok := protocol.PingEventID(payload)
		if !ok {
			return nil, missing("ping_event.event_id")
		}
		return Ping{EventID: id, PingMs: js.GetPath("ping_event", "ping_ms").MustInt(), Raw: payload}, nil
	case TypePong:
		return Pong{Data: stripType(js)}, nil
	}
	return UnknownEvent{Type: typ, Raw: payload}, nil
}

// ClientEvent is an outbound conversation frame.
type ClientEvent interface {
	Frame() (ws.WireMessage, error)
}

func jsonFrame(v any) (ws.WireMessage, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return ws.WireMessage{}, err
	}
	return ws.WireMessage{Type: ws.WireText, Payload: body}, nil
}

type UserAudioChunk struct {
	Audio []byte
}

func (c UserAudioChunk) Frame() (ws.WireMessage, error) {
	return jsonFrame(struct {
		Type  string `json:"type"`
		Chunk string `json:"user_audio_chunk"`
	}{TypeUserAudioChunk, base64.StdEncoding.EncodeToString(c.Audio)})
}

type PongReply struct {
	EventID int
}

func (p PongReply) Frame() (ws.WireMessage, error) {
	return protocol.PongFrame(p.EventID), nil
}

type UserMessage struct {
	Text string
}

func (m UserMessage) Frame() (ws.WireMessage, error) {
	return jsonFrame(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{TypeUserMessage, m.Text})
}

type ContextualUpdate struct {
	Text string
}

func (u ContextualUpdate) Frame() (ws.WireMessage, error) {
	return jsonFrame(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{TypeContextualUpdate, u.Text})
}

type UserActivity struct{}

func (UserActivity) Frame() (ws.WireMessage, error) {
	return jsonFrame(struct {
		Type string `json:"type"`
	}{TypeUserActivity})
}

// ConversationURL is the unsigned endpoint for a public agent.
func ConversationURL(cfg config.ClientConfig, agentID string) (string, error) {
	if agentID == "" {
		return "", errors.New("agent id is required")
	}
	return BuildURL(cfg.BaseURL, "/v1/convai/conversation", url.Values{"agent_id": {agentID}})
}

// EventSession is a bidirectional conversation. Pings are handed to the
// caller, who answers them with SendPong, unless WithAutoPong is set.
type EventSession struct {
	opts   options
	logger logrus.FieldLogger

	mu     sync.Mutex
	state  SessionState
	handle *ws.ConnectionHandle
	stream *ws.ConnectionStream
	ended  bool

	recvMu sync.Mutex
}

// DialEventSession connects to an already signed conversation URL.
func DialEventSession(ctx context.Context, signedURL string, opts ...Option) (*EventSession, error) {
	o := newOptions(opts)
	handler := protocol.EventStreamingHandler{AutoPong: o.autoPong}
	handle, stream, err := o.dial(ctx, signedURL, handler, o.connectionOptions()...)
	if err != nil {
		return nil, err
	}
	s := &EventSession{
		opts:   o,
		logger: o.logger.WithField("session", "conversation"),
		state:  StateStreaming,
		handle: handle,
		stream: stream,
	}
	s.logger.Debug("conversation session streaming")
	return s, nil
}

// DialEventSessionForAgent fetches a signed URL for agentID and connects to it.
func DialEventSessionForAgent(ctx context.Context, client *rest_api.Client, agentID string, opts ...Option) (*EventSession, error) {
	signed, err := client.ConversationSignedURL(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return DialEventSession(ctx, signed, opts...)
}

func (s *EventSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *EventSession) Send(ev ClientEvent) error {
	frame, err := ev.Frame()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return api_errors.SessionClosed("Send")
	}
	return s.handle.Send(frame)
}

func (s *EventSession) SendAudio(chunk []byte) error {
	return s.Send(UserAudioChunk{Audio: chunk})
}

// SendPong answers the ping with the given event id.
func (s *EventSession) SendPong(eventID int) error {
	return s.Send(PongReply{EventID: eventID})
}

func (s *EventSession) SendUserMessage(text string) error {
	return s.Send(UserMessage{Text: text})
}

func (s *EventSession) SendContextualUpdate(text string) error {
	return s.Send(ContextualUpdate{Text: text})
}

func (s *EventSession) SendUserActivity() error {
	return s.Send(UserActivity{})
}

// Recv returns the next event, or (nil, nil) once the conversation has
// ended. Calls after that fail with a SessionClosed error.
func (s *EventSession) Recv(ctx context.Context) (ConversationEvent, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed || s.ended {
		s.mu.Unlock()
		return nil, api_errors.SessionClosed("Recv")
	}
	stream := s.stream
	s.mu.Unlock()

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			return nil, api_errors.SessionClosed("Recv")
		}
		switch ev.Type {
		case ws.EventError, ws.EventViolation:
			return nil, ev.Err
		case ws.EventClosed:
			s.mu.Lock()
			s.ended = true
			if s.state == StateStreaming {
				s.state = StateDraining
			}
			s.mu.Unlock()
			s.logger.WithField("reason", ev.Err).Debug("conversation ended")
			return nil, nil
		}
		if ev.Message.Type != ws.WireText {
			continue
		}
		return decodeConversationEvent(ev.Message.Payload)
	}
}

// Close ends the conversation. Closing twice is a no-op.
func (s *EventSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	err := s.handle.Close()
	s.logger.Debug("conversation session closed")
	return err
}
