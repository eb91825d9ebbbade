package rest_api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/config"
	"github.com/fr0ster/turbo-speech/metrics"
)

const APIKeyHeader = "xi-api-key"

// Request describes one REST call. Body is kept as bytes so every retry
// sends the same payload.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    []byte
	Header  http.Header
	Timeout time.Duration
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the classified result of a single attempt. Retry decisions are
// made from it and nothing else.
type Outcome struct {
	Kind    OutcomeKind
	Status  int
	Header  http.Header
	Body    []byte
	Err     *api_errors.Error
	Elapsed time.Duration
}

// RetryAfter returns the server hint carried by a rate-limited outcome.
func (o Outcome) RetryAfter() (time.Duration, bool) {
	if o.Err == nil || o.Err.RetryAfter == nil {
		return 0, false
	}
	return *o.Err.RetryAfter, true
}

func (o Outcome) failure() *api_errors.Error {
	if o.Err != nil {
		return o.Err
	}
	return api_errors.New(api_errors.KindUnknown, "attempt failed without a reason")
}

func success(status int, header http.Header, body []byte) Outcome {
	return Outcome{Kind: OutcomeSuccess, Status: status, Header: header, Body: body}
}

func retryable(err *api_errors.Error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Status: err.Status, Err: err}
}

func fatal(err *api_errors.Error) Outcome {
	return Outcome{Kind: OutcomeFatal, Status: err.Status, Err: err}
}

type Executor struct {
	baseURL  string
	apiKey   config.APIKey
	timeout  time.Duration
	client   *http.Client
	logger   logrus.FieldLogger
	observer metrics.AttemptObserver
	limiter  *rate.Limiter
}

type ExecutorOption func(*Executor)

func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

func WithExecutorLogger(l logrus.FieldLogger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func WithAttemptObserver(o metrics.AttemptObserver) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithRateLimiter paces attempts on the client side before they hit the server.
func WithRateLimiter(l *rate.Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = l }
}

func NewExecutor(cfg config.ClientConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		client:   &http.Client{},
		logger:   logrus.StandardLogger(),
		observer: metrics.Nop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs the call exactly once and classifies the result.
// It never retries.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := e.execute(ctx, req)
	out.Elapsed = time.Since(start)
	e.report(req, out)
	return out
}

func (e *Executor) execute(ctx context.Context, req Request) Outcome {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fatal(api_errors.Wrap(api_errors.KindCanceled, "rate limiter wait", err))
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := e.newRequest(attemptCtx, req)
	if err != nil {
		return fatal(api_errors.Wrap(api_errors.KindUnknown, "error creating request", err))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return classifyError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyError(ctx, err)
	}
	return ClassifyResponse(resp.StatusCode, resp.Header, body)
}

func (e *Executor) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, e.baseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		httpReq.URL.RawQuery = req.Query.Encode()
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(APIKeyHeader, e.apiKey.Reveal())
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (e *Executor) report(req Request, out Outcome) {
	entry := e.logger.WithFields(logrus.Fields{
		"method":  req.Method,
		"path":    req.Path,
		"elapsed": out.Elapsed,
	})
	if out.Status != 0 {
		entry = entry.WithField("status", out.Status)
	}
	label := "success"
	if out.Err != nil {
		label = out.Err.Kind.String()
		entry = entry.WithField("failure", label)
	}
	entry.Debug("api attempt")
	e.observer.ObserveAttempt(req.Method, out.Status, label, out.Elapsed)
}

// ClassifyResponse maps a completed HTTP exchange to an Outcome.
func ClassifyResponse(status int, header http.Header, body []byte) Outcome {
	switch {
	case status >= 200 && status < 300:
		return success(status, header, body)

	case status == http.StatusTooManyRequests:
		err := &api_errors.Error{Kind: api_errors.KindRateLimited, Status: status, Body: body}
		if hint, ok := parseRetryAfter(header); ok {
			err.RetryAfter = &hint
		}
		if msg, ok := api_errors.DetailMessage(body); ok {
			err.Message = msg
		}
		out := retryable(err)
		out.Header = header
		return out

	case status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable:
		out := retryable(&api_errors.Error{
			Kind:    api_errors.KindServer,
			Status:  status,
			Message: errorMessage(status, body),
			Body:    body,
		})
		out.Header = header
		return out

	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		msg, ok := api_errors.DetailMessage(body)
		if !ok {
			msg = "invalid or missing API key"
		}
		out := fatal(&api_errors.Error{Kind: api_errors.KindAuth, Status: status, Message: msg, Body: body})
		out.Header = header
		return out

	default:
		out := fatal(&api_errors.Error{
			Kind:    api_errors.KindApi,
			Status:  status,
			Message: errorMessage(status, body),
			Body:    body,
		})
		out.Header = header
		return out
	}
}

func errorMessage(status int, body []byte) string {
	if msg, ok := api_errors.DetailMessage(body); ok {
		return msg
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unknown error"
}

// parseRetryAfter accepts integer seconds only.
func parseRetryAfter(header http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// classifyError handles failures where no response was read. ctx is the
// caller's context, not the per-attempt one: if the caller gave up we stop.
func classifyError(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return fatal(api_errors.Wrap(api_errors.KindCanceled, "request aborted by caller", err))
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return retryable(api_errors.Wrap(api_errors.KindTimeout, "request timed out", err))
	}
	return retryable(api_errors.Wrap(api_errors.KindTransport, "request failed", err))
}
