package rest_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bitly/go-simplejson"
	"github.com/sirupsen/logrus"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/config"
)

// Client is the retrying REST entry point: one Executor, one RetryPolicy.
// Typed endpoint wrappers are expected to sit on top of Call/Decode.
type Client struct {
	cfg      config.ClientConfig
	executor *Executor
	policy   *RetryPolicy
}

type clientOptions struct {
	executor []ExecutorOption
	retry    []RetryOption
}

type Option func(*clientOptions)

func WithExecutorOptions(opts ...ExecutorOption) Option {
	return func(o *clientOptions) { o.executor = append(o.executor, opts...) }
}

func WithRetryOptions(opts ...RetryOption) Option {
	return func(o *clientOptions) { o.retry = append(o.retry, opts...) }
}

// WithLogger sets the logger for both the executor and the retry policy.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *clientOptions) {
		o.executor = append(o.executor, WithExecutorLogger(l))
		o.retry = append(o.retry, WithRetryLogger(l))
	}
}

func NewClient(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		cfg:      cfg,
		executor: NewExecutor(cfg, o.executor...),
		policy:   NewRetryPolicy(cfg, o.retry...),
	}, nil
}

func (c *Client) Config() config.ClientConfig {
	return c.cfg
}

// Call runs req through the retry policy and returns the success body.
func (c *Client) Call(ctx context.Context, req Request) ([]byte, error) {
	out, err := c.policy.Do(ctx, func(ctx context.Context) Outcome {
		return c.executor.Execute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// CallJSON is Call with the body parsed into a simplejson document.
func (c *Client) CallJSON(ctx context.Context, req Request) (*simplejson.Json, error) {
	body, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	j, err := simplejson.NewJson(body)
	if err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, fmt.Sprintf("%s %s", req.Method, req.Path), err)
	}
	return j, nil
}

// Decode is Call with the body unmarshaled into out.
func (c *Client) Decode(ctx context.Context, req Request, out any) error {
	body, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return api_errors.Wrap(api_errors.KindDecode, fmt.Sprintf("%s %s", req.Method, req.Path), err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.Call(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, api_errors.Wrap(api_errors.KindDecode, "error encoding request body", err)
	}
	return c.Call(ctx, Request{Method: http.MethodPost, Path: path, Body: payload})
}

func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.Call(ctx, Request{Method: http.MethodDelete, Path: path})
}

const conversationSignedURLPath = "/v1/convai/conversation/get-signed-url"

// ConversationSignedURL asks the API for a pre-authenticated conversation
// WebSocket URL for the given agent.
func (c *Client) ConversationSignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", api_errors.New(api_errors.KindApi, "agent id is required")
	}
	j, err := c.CallJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   conversationSignedURLPath,
		Query:  url.Values{"agent_id": {agentID}},
	})
	if err != nil {
		return "", err
	}
	signed, err := j.Get("signed_url").String()
	if err != nil || signed == "" {
		return "", api_errors.New(api_errors.KindDecode, "response has no signed_url")
	}
	return signed, nil
}
