package web_stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/config"
	utils "github.com/fr0ster/turbo-speech/utils/json"
	ws "github.com/fr0ster/turbo-speech/web_socket"
	"github.com/fr0ster/turbo-speech/web_socket/protocol"
)

type OutputFormat string

const (
	OutputMP3_22050_32  OutputFormat = "mp3_22050_32"
	OutputMP3_44100_128 OutputFormat = "mp3_44100_128"
	OutputPCM_16000     OutputFormat = "pcm_16000"
	OutputPCM_24000     OutputFormat = "pcm_24000"
	OutputULaw_8000     OutputFormat = "ulaw_8000"
)

// VoiceSettings fields are optional; nil means "server default".
type VoiceSettings struct {
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Style           *float64 `json:"style,omitempty"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

func Float(v float64) *float64 { return &v }

func Bool(v bool) *bool { return &v }

type GenerationConfig struct {
	// ChunkLengthSchedule is how many characters the server buffers before
	// each successive generation.
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{ChunkLengthSchedule: []int{120, 160, 250, 290}}
}

type AudioConfig struct {
	VoiceID          string
	ModelID          string
	VoiceSettings    *VoiceSettings
	GenerationConfig *GenerationConfig
	OutputFormat     OutputFormat

	LanguageCode string
	// InactivityTimeout is in seconds; the server default applies when zero.
	InactivityTimeout int
	SyncAlignment     bool
	AutoMode          bool
	EnableLogging     *bool
}

type streamQuery struct {
	ModelID           string       `json:"model_id,omitempty"`
	OutputFormat      OutputFormat `json:"output_format,omitempty"`
	LanguageCode      string       `json:"language_code,omitempty"`
	InactivityTimeout int          `json:"inactivity_timeout,omitempty"`
	SyncAlignment     bool         `json:"sync_alignment,omitempty"`
	AutoMode          bool         `json:"auto_mode,omitempty"`
	EnableLogging     *bool        `json:"enable_logging,omitempty"`
}

type beginMessage struct {
	Text             string            `json:"text"`
	VoiceSettings    *VoiceSettings    `json:"voice_settings,omitempty"`
	GenerationConfig *GenerationConfig `json:"generation_config,omitempty"`
	APIKey           string            `json:"xi_api_key,omitempty"`
}

type chunkMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation"`
}

type flushMessage struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush"`
}

type endMessage struct {
	Text string `json:"text"`
}

type Alignment struct {
	Chars            []string  `json:"chars"`
	CharStartTimesMs []float64 `json:"charStartTimesMs"`
	CharDurationsMs  []float64 `json:"charDurationsMs"`
}

// AudioChunk is one inbound frame of synthesized speech.
type AudioChunk struct {
	// Audio is base64 encoded; see Bytes.
	Audio               string     `json:"audio"`
	IsFinal             bool       `json:"isFinal"`
	Alignment           *Alignment `json:"alignment"`
	NormalizedAlignment *Alignment `json:"normalizedAlignment"`
}

func (c *AudioChunk) Bytes() ([]byte, error) {
	if c.Audio == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(c.Audio)
	if err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, "audio chunk is not valid base64", err)
	}
	return b, nil
}

type serverError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func decodeAudioFrame(payload []byte) (*AudioChunk, error) {
	var failure serverError
	if err := json.Unmarshal(payload, &failure); err == nil && failure.Error != "" {
		msg := failure.Message
		if msg == "" {
			msg = failure.Error
		}
		return nil, &api_errors.Error{Kind: api_errors.KindApi, Message: msg, Body: payload}
	}
	var chunk AudioChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, "invalid audio frame", err)
	}
	return &chunk, nil
}

// AudioSession streams text in and synthesized audio out over one
// connection. Sends are written in call order.
type AudioSession struct {
	cfg    config.ClientConfig
	audio  AudioConfig
	opts   options
	logger logrus.FieldLogger

	mu         sync.Mutex
	state      SessionState
	handle     *ws.ConnectionHandle
	stream     *ws.ConnectionStream
	eosSent    bool
	ended      bool
	pendingEnd bool

	recvMu sync.Mutex
}

func NewAudioSession(cfg config.ClientConfig, audio AudioConfig, opts ...Option) (*AudioSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if audio.VoiceID == "" {
		return nil, errors.New("voice id is required")
	}
	o := newOptions(opts)
	return &AudioSession{
		cfg:   cfg,
		audio: audio,
		opts:  o,
		logger: o.logger.WithFields(logrus.Fields{
			"session": "audio",
			"voice":   audio.VoiceID,
		}),
	}, nil
}

// DialAudioSession creates a session and connects it.
func DialAudioSession(ctx context.Context, cfg config.ClientConfig, audio AudioConfig, opts ...Option) (*AudioSession, error) {
	s, err := NewAudioSession(cfg, audio, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// URL is the stream-input endpoint the session connects to.
func (s *AudioSession) URL() (string, error) {
	query, err := utils.StructToUrlValues(streamQuery{
		ModelID:           s.audio.ModelID,
		OutputFormat:      s.audio.OutputFormat,
		LanguageCode:      s.audio.LanguageCode,
		InactivityTimeout: s.audio.InactivityTimeout,
		SyncAlignment:     s.audio.SyncAlignment,
		AutoMode:          s.audio.AutoMode,
		EnableLogging:     s.audio.EnableLogging,
	})
	if err != nil {
		return "", err
	}
	path := "/v1/text-to-speech/" + url.PathEscape(s.audio.VoiceID) + "/stream-input"
	return BuildURL(s.cfg.BaseURL, path, query)
}

func (s *AudioSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the connection and sends the begin-of-stream frame. It is a
// no-op on a session that is already streaming.
func (s *AudioSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return api_errors.SessionClosed("Connect")
	case StateStreaming, StateDraining:
		return nil
	}

	address, err := s.URL()
	if err != nil {
		return err
	}
	handle, stream, err := s.opts.dial(ctx, address, protocol.AudioStreamingHandler{}, s.opts.connectionOptions()...)
	if err != nil {
		return err
	}
	bos := beginMessage{
		Text:             " ",
		VoiceSettings:    s.audio.VoiceSettings,
		GenerationConfig: s.audio.GenerationConfig,
		APIKey:           s.cfg.APIKey.Reveal(),
	}
	if err := handle.SendJSON(bos); err != nil {
		_ = handle.Close()
		return err
	}
	s.handle, s.stream = handle, stream
	s.state = StateStreaming
	s.logger.Debug("audio session streaming")
	return nil
}

func (s *AudioSession) stateError(op string) error {
	if s.state == StateIdle {
		return api_errors.New(api_errors.KindSessionClosed, op+" called before Connect")
	}
	return api_errors.SessionClosed(op)
}

// SendText queues a text fragment for synthesis. Empty fragments are
// dropped since an empty text frame ends the stream.
func (s *AudioSession) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return s.stateError("SendText")
	}
	if text == "" {
		return nil
	}
	return s.handle.SendJSON(chunkMessage{Text: text, TryTriggerGeneration: true})
}

// Flush asks the server to synthesize whatever it has buffered.
func (s *AudioSession) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return s.stateError("Flush")
	}
	return s.handle.SendJSON(flushMessage{Text: " ", Flush: true})
}

// CloseSend sends end-of-stream but keeps the connection so the remaining
// audio can still be received.
func (s *AudioSession) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return s.stateError("CloseSend")
	}
	s.eosSent = true
	s.state = StateDraining
	return s.handle.SendJSON(endMessage{})
}

// Recv returns the next audio chunk. It returns (nil, nil) exactly once,
// when the final chunk has been delivered or the connection closed; later
// calls fail with a SessionClosed error.
func (s *AudioSession) Recv(ctx context.Context) (*AudioChunk, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	s.mu.Lock()
	switch {
	case s.state == StateIdle, s.state == StateClosed, s.ended:
		err := s.stateError("Recv")
		s.mu.Unlock()
		return nil, err
	case s.pendingEnd:
		s.pendingEnd = false
		s.endLocked()
		s.mu.Unlock()
		return nil, nil
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
			s.endLocked()
			s.mu.Unlock()
			s.logger.WithField("reason", ev.Err).Debug("audio stream closed")
			return nil, nil
		}
		if ev.Message.Type != ws.WireText {
			continue
		}
		chunk, err := decodeAudioFrame(ev.Message.Payload)
		if err != nil {
			return nil, err
		}
		if chunk.IsFinal {
			s.mu.Lock()
			if chunk.Audio == "" {
				s.endLocked()
				s.mu.Unlock()
				return nil, nil
			}
			s.pendingEnd = true
			s.mu.Unlock()
		}
		return chunk, nil
	}
}

func (s *AudioSession) endLocked() {
	s.ended = true
	if s.state == StateStreaming {
		s.state = StateDraining
	}
}

// Close sends end-of-stream unless CloseSend already did, then closes the
// connection. Closing twice is a no-op.
func (s *AudioSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return nil
	case StateIdle:
		s.state = StateClosed
		return nil
	}

	var sendErr error
	if !s.eosSent {
		s.eosSent = true
		sendErr = s.handle.SendJSON(endMessage{})
	}
	closeErr := s.handle.Close()
	s.state = StateClosed
	s.logger.Debug("audio session closed")
	if sendErr != nil && !errors.Is(sendErr, api_errors.ErrConnectionClosed) {
		return sendErr
	}
	return closeErr
}
