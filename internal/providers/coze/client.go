// Package coze calls generation workflows exposed as "run" endpoints: one
// authenticated POST per call, answered with either JSON or an event stream.
package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"storyjobs/internal/infra"
)

// Options configures one run endpoint.
type Options struct {
	Name       string
	URL        string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
	// MaxReplyBytes caps the reply body; zero means DefaultMaxReplyBytes.
	MaxReplyBytes int64
	// Breaker overrides the default circuit breaker settings. Name is filled
	// in when empty.
	Breaker *gobreaker.Settings
}

// Client posts JSON bodies to a run endpoint. Calls are never retried; a
// breaker fails them fast while the endpoint keeps erroring.
type Client struct {
	name       string
	url        string
	token      string
	timeout    time.Duration
	maxReply   int64
	httpClient *http.Client
	logger     *infra.Logger
	breaker    *gobreaker.CircuitBreaker
}

// DefaultMaxReplyBytes caps a reply body when Options leave it unset.
const DefaultMaxReplyBytes = 16 << 20

// Result is a decoded reply.
type Result struct {
	Status   int
	Data     json.RawMessage
	Duration time.Duration
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxReply := opts.MaxReplyBytes
	if maxReply <= 0 {
		maxReply = DefaultMaxReplyBytes
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "run"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	settings := gobreaker.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if opts.Breaker != nil {
		settings = *opts.Breaker
	}
	if settings.Name == "" {
		settings.Name = "coze-" + name
	}
	settings.IsSuccessful = countsAsSuccess

	return &Client{
		name:       name,
		url:        strings.TrimSpace(opts.URL),
		token:      strings.TrimSpace(opts.Token),
		timeout:    timeout,
		maxReply:   maxReply,
		httpClient: httpClient,
		logger:     logger,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the endpoint label used in logs and errors.
func (c *Client) Name() string {
	return c.name
}

// Configured reports whether both URL and token are set.
func (c *Client) Configured() bool {
	return c != nil && c.url != "" && c.token != ""
}

// Run posts body and decodes the reply. Non-2xx replies, stream error events,
// timeouts and transport failures all surface as *Error.
func (c *Client) Run(ctx context.Context, traceID string, body any) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coze %s: encode request: %w", c.name, err)
	}

	start := time.Now()
	c.logger.Debug().
		Str("endpoint", c.name).
		Str("trace_id", traceID).
		Int("body_bytes", len(encoded)).
		Msg("coze: request start")

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, traceID, encoded)
	})
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Endpoint: c.name, Message: err.Error()}
		}
		event := c.logger.Error().Err(err).
			Str("endpoint", c.name).
			Str("trace_id", traceID).
			Dur("duration", duration)
		var ce *Error
		if errors.As(err, &ce) {
			event = event.Int("status", ce.Status).
				Str("code", ce.Code).
				Str("request_id", ce.RequestID).
				Str("body_snippet", ce.BodySnippet)
		}
		event.Msg("coze: request failed")
		return nil, err
	}

	res := out.(*Result)
	res.Duration = duration
	c.logger.Info().
		Str("endpoint", c.name).
		Str("trace_id", traceID).
		Int("status", res.Status).
		Dur("duration", duration).
		Msg("coze: request done")
	return res, nil
}

func (c *Client) do(ctx context.Context, traceID string, body []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coze %s: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Endpoint: c.name, Message: fmt.Sprintf("request timed out after %s", c.timeout)}
		}
		return nil, &Error{Endpoint: c.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxReply+1))
	if err != nil {
		return nil, &Error{Endpoint: c.name, Status: resp.StatusCode, Message: "read response: " + err.Error()}
	}
	if int64(len(raw)) > c.maxReply {
		return nil, &Error{
			Endpoint:    c.name,
			Status:      resp.StatusCode,
			Message:     fmt.Sprintf("reply exceeds %d bytes", c.maxReply),
			BodySnippet: truncate(string(raw), snippetLimit),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.errorFromResponse(resp, raw)
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream") {
		data, errMsg, err := parseEventStream(raw)
		if err != nil {
			return nil, &Error{
				Endpoint:    c.name,
				Status:      resp.StatusCode,
				Message:     err.Error(),
				BodySnippet: truncate(string(raw), snippetLimit),
			}
		}
		if errMsg != "" {
			return nil, &Error{
				Endpoint:    c.name,
				Status:      resp.StatusCode,
				Message:     errMsg,
				RequestID:   requestID(resp.Header, nil),
				BodySnippet: truncate(string(raw), snippetLimit),
			}
		}
		return &Result{Status: resp.StatusCode, Data: data}, nil
	}

	return &Result{Status: resp.StatusCode, Data: jsonOrString(string(raw))}, nil
}

type errorBody struct {
	Code      json.RawMessage `json:"code"`
	Message   string          `json:"message"`
	Msg       string          `json:"msg"`
	Error     json.RawMessage `json:"error"`
	RequestID string          `json:"request_id"`
	LogID     string          `json:"log_id"`
}

func (c *Client) errorFromResponse(resp *http.Response, raw []byte) *Error {
	out := &Error{
		Endpoint:    c.name,
		Status:      resp.StatusCode,
		Message:     http.StatusText(resp.StatusCode),
		BodySnippet: truncate(string(raw), snippetLimit),
	}
	var detail errorBody
	if err := json.Unmarshal(raw, &detail); err == nil {
		out.Code = strings.Trim(string(detail.Code), `"`)
		if out.Code == "null" {
			out.Code = ""
		}
		switch {
		case detail.Message != "":
			out.Message = detail.Message
		case detail.Msg != "":
			out.Message = detail.Msg
		case len(detail.Error) > 0 && string(detail.Error) != "null":
			out.Message = describe(detail.Error)
		}
	}
	out.RequestID = requestID(resp.Header, &detail)
	if out.Message == "" {
		out.Message = "request failed"
	}
	return out
}

func requestID(h http.Header, body *errorBody) string {
	for _, key := range []string{"X-Request-Id", "X-Tt-Logid", "X-Log-Id"} {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			return v
		}
	}
	if body != nil {
		if body.RequestID != "" {
			return body.RequestID
		}
		return body.LogID
	}
	return ""
}

// countsAsSuccess keeps caller-side problems from tripping the breaker. Only
// 5xx replies and calls that never got a reply count as failures.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status > 0 && ce.Status < 500
	}
	return false
}
