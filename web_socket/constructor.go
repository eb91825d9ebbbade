package web_socket

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/metrics"
	"github.com/fr0ster/turbo-speech/web_socket/strategy"
)

const (
	DefaultGracePeriod      = 2 * time.Second
	DefaultEventBuffer      = 64
	DefaultHandshakeTimeout = 45 * time.Second
	// Base64 audio frames are large.
	DefaultReadLimit = 4 << 20
)

type options struct {
	logger      logrus.FieldLogger
	observer    metrics.ConnectionObserver
	gracePeriod time.Duration
	bufferSize  int
	strategy    strategy.ReadStrategy
	dialer      *websocket.Dialer
	header      http.Header
	readLimit   int64
}

type Option func(*options)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func WithConnectionObserver(obs metrics.ConnectionObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithGracePeriod bounds how long Close waits for the peer to answer the
// close frame.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.gracePeriod = d }
}

func WithEventBuffer(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithReadStrategy must be given a fresh instance per connection.
func WithReadStrategy(s strategy.ReadStrategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithDialer replaces the default dialer (proxy from environment, 45s handshake).
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

func newOptions(opts []Option) options {
	o := options{
		logger:      logrus.StandardLogger(),
		observer:    metrics.Nop,
		gracePeriod: DefaultGracePeriod,
		bufferSize:  DefaultEventBuffer,
		readLimit:   DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.strategy == nil {
		o.strategy = strategy.NewDefaultStrategy()
	}
	if o.bufferSize < 0 {
		o.bufferSize = 0
	}
	return o
}

// Connect performs the handshake and returns an Open connection.
func Connect(ctx context.Context, address string, handler ProtocolHandler, opts ...Option) (*ConnectionHandle, *ConnectionStream, error) {
	o := newOptions(opts)
	dialer := o.dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  DefaultHandshakeTimeout,
			EnableCompression: false,
		}
	}
	logger := o.logger.WithFields(logrus.Fields{
		"protocol": handler.Name(),
		"address":  redactAddress(address),
	})

	conn, resp, err := dialer.DialContext(ctx, address, o.header)
	if err != nil {
		failure := api_errors.Wrap(api_errors.KindConnect, "websocket handshake failed", err)
		if resp != nil {
			failure.Status = resp.StatusCode
		}
		o.observer.ObserveConnection(handler.Name(), "connect_failed")
		logger.WithError(err).Warn("connect failed")
		return nil, nil, failure
	}
	conn.SetReadLimit(o.readLimit)
	logger.Debug("connected")

	h, s := newConnection(conn, handler, o)
	return h, s, nil
}

// NewConnection wraps an already established socket.
func NewConnection(sock Socket, handler ProtocolHandler, opts ...Option) (*ConnectionHandle, *ConnectionStream) {
	return newConnection(sock, handler, newOptions(opts))
}

// redactAddress drops the query string, which may carry signatures.
func redactAddress(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return "<invalid address>"
	}
	u.RawQuery = ""
	return u.String()
}
