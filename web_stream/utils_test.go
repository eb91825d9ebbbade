package web_stream_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fr0ster/turbo-speech/config"
	ws "github.com/fr0ster/turbo-speech/web_socket"
	"github.com/fr0ster/turbo-speech/web_socket/sockettest"
	"github.com/fr0ster/turbo-speech/web_stream"
)

const timeOut = 2 * time.Second

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func testConfig() config.ClientConfig {
	return config.New("test-key", config.WithBaseURL("https://api.example.com"))
}

// fakeDialer hands every session the same in-memory socket and records
// where it was asked to connect.
type fakeDialer struct {
	fake *sockettest.FakeSocket

	mu        sync.Mutex
	addresses []string
	protocols []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{fake: sockettest.New()}
}

func (d *fakeDialer) dial(_ context.Context, address string, handler ws.ProtocolHandler, opts ...ws.Option) (*ws.ConnectionHandle, *ws.ConnectionStream, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.protocols = append(d.protocols, handler.Name())
	d.mu.Unlock()
	h, s := ws.NewConnection(d.fake, handler, opts...)
	return h, s, nil
}

func (d *fakeDialer) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

func (d *fakeDialer) options(extra ...web_stream.Option) []web_stream.Option {
	return append([]web_stream.Option{
		web_stream.WithLogger(quietLogger()),
		web_stream.WithDialFunc(d.dial),
		web_stream.WithConnectionOptions(ws.WithGracePeriod(200 * time.Millisecond)),
	}, extra...)
}

func recvCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeOut)
	t.Cleanup(cancel)
	return ctx
}

func requireFrames(t *testing.T, fake *sockettest.FakeSocket, want ...string) {
	t.Helper()
	got := fake.TextFrames()
	require.Len(t, got, len(want), "frames: %v", got)
	for i := range want {
		require.JSONEq(t, want[i], got[i], "frame %d", i)
	}
}
