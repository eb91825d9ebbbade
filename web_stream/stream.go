package web_stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	ws "github.com/fr0ster/turbo-speech/web_socket"
)

type SessionState int32

const (
	StateIdle SessionState = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("session(%d)", int32(s))
}

// DialFunc opens a connection. ws.Connect is the default.
type DialFunc func(ctx context.Context, address string, handler ws.ProtocolHandler, opts ...ws.Option) (*ws.ConnectionHandle, *ws.ConnectionStream, error)

type options struct {
	logger   logrus.FieldLogger
	dial     DialFunc
	connOpts []ws.Option
	autoPong bool
}

type Option func(*options)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func WithDialFunc(d DialFunc) Option {
	return func(o *options) { o.dial = d }
}

// WithAutoPong answers conversation pings inside the connection instead of
// surfacing them from Recv.
func WithAutoPong() Option {
	return func(o *options) { o.autoPong = true }
}

// WithConnectionOptions passes options through to the connection layer.
func WithConnectionOptions(opts ...ws.Option) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

func newOptions(opts []Option) options {
	o := options{
		logger: logrus.StandardLogger(),
		dial:   ws.Connect,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) connectionOptions() []ws.Option {
	return append([]ws.Option{ws.WithLogger(o.logger)}, o.connOpts...)
}

// BuildURL turns an http(s) base URL into the matching ws(s) endpoint.
func BuildURL(baseURL, path string, params url.Values) (string, error) {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "wss://"), strings.HasPrefix(base, "ws://"):
	default:
		return "", fmt.Errorf("unsupported base url scheme: %q", baseURL)
	}
	u, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}
