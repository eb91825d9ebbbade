package api_errors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitly/go-simplejson"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindRateLimited
	KindServer
	KindTransport
	KindTimeout
	KindApi
	KindSessionClosed
	KindConnectionClosed
	KindProtocolViolation
	KindConnect
	KindCanceled
	KindDecode
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindAuth:              "auth error",
	KindRateLimited:       "rate limited",
	KindServer:            "server error",
	KindTransport:         "transport error",
	KindTimeout:           "timeout",
	KindApi:               "api error",
	KindSessionClosed:     "session closed",
	KindConnectionClosed:  "connection closed",
	KindProtocolViolation: "protocol violation",
	KindConnect:           "connect failure",
	KindCanceled:          "canceled",
	KindDecode:            "decode error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the retry policy may suppress this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServer, KindTransport, KindTimeout:
		return true
	}
	return false
}

// Error is the single error type surfaced by the transport core.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Body is the server error body, verbatim.
	Body []byte
	// RetryAfter is set only when the server supplied a Retry-After hint.
	RetryAfter *time.Duration
	// Attempts is set on the terminal error returned by the retry policy.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.RetryAfter != nil {
		fmt.Fprintf(&b, " (retry after %s)", *e.RetryAfter)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Status when the target carries one, so
// errors.Is(err, ErrSessionClosed) works through any wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// WithAttempts returns a copy annotated with the number of attempts made.
func (e *Error) WithAttempts(n int) *Error {
	cp := *e
	cp.Attempts = n
	return &cp
}

var (
	ErrAuth              = &Error{Kind: KindAuth}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrServer            = &Error{Kind: KindServer}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrApi               = &Error{Kind: KindApi}
	ErrSessionClosed     = &Error{Kind: KindSessionClosed}
	ErrConnectionClosed  = &Error{Kind: KindConnectionClosed}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrConnect           = &Error{Kind: KindConnect}
	ErrCanceled          = &Error{Kind: KindCanceled}
	ErrDecode            = &Error{Kind: KindDecode}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func SessionClosed(op string) *Error {
	return &Error{Kind: KindSessionClosed, Message: op + " called on a closed session"}
}

func ConnectionClosed(reason error) *Error {
	return &Error{Kind: KindConnectionClosed, Message: "connection is not open", Err: reason}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is an *Error of a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// DetailMessage extracts the human message from an error body shaped as
// {"detail": "..."} or {"detail": {"message": "..."}}.
func DetailMessage(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	j, err := simplejson.NewJson(body)
	if err != nil {
		return "", false
	}
	detail, ok := j.CheckGet("detail")
	if !ok {
		return "", false
	}
	if msg, err := detail.String(); err == nil {
		return msg, true
	}
	if msg, err := detail.Get("message").String(); err == nil {
		return msg, true
	}
	return "", false
}
