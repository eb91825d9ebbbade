package rest_api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fr0ster/turbo-speech/rest_api"
)

// StartHandlerServer starts an httptest server with a provided handler.
func StartHandlerServer(h http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(h)
}

// StartStaticJSONServer starts a server that always responds with given status and JSON body.
func StartStaticJSONServer(status int, body string) *httptest.Server {
	return StartHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

type stubResponse struct {
	status int
	header map[string]string
	body   string
}

// StartSequenceServer answers the n-th request with responses[n]; requests past
// the end get the last response. hits counts every request.
func StartSequenceServer(responses ...stubResponse) (srv *httptest.Server, hits *int32) {
	var counter int32
	srv = StartHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&counter, 1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		resp := responses[n]
		for k, v := range resp.header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.status)
		_, _ = io.WriteString(w, resp.body)
	})
	return srv, &counter
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// sleepRecorder captures every wait requested by the retry policy without sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.waits))
	for i, d := range s.waits {
		out[i] = d.Round(time.Millisecond)
	}
	return out
}

// scripted returns an attempt func that replays outcomes in order and counts calls.
func scripted(outcomes ...rest_api.Outcome) (func(context.Context) rest_api.Outcome, *int) {
	calls := 0
	return func(context.Context) rest_api.Outcome {
		i := calls
		calls++
		if i >= len(outcomes) {
			i = len(outcomes) - 1
		}
		return outcomes[i]
	}, &calls
}
