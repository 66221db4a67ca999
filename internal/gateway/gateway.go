// Package gateway talks to the collector agent backend over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	opLookup = "find_customer"
	opChat   = "chat"

	maxResponseBytes = 1 << 20
)

// LookupResult is the outcome of a customer search.
type LookupResult struct {
	Found   bool
	Message string
}

// ChatReply is the agent's answer to one chat turn.
type ChatReply struct {
	Message string
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client performs lookup and chat calls. The backend keeps the located customer in a
// session cookie, so one Client must be used for a whole conversation.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	requests metric.Int64Counter
}

// New builds a Client with a cookie jar and an instrumented transport.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway base URL is empty")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			),
		},
		logger:   logger,
		requests: newRequestCounter(),
	}, nil
}

// BaseURL reports the normalized backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LookupCustomer asks the backend to locate a customer by name.
func (c *Client) LookupCustomer(ctx context.Context, name string) (LookupResult, error) {
	var payload struct {
		CustomerFound bool   `json:"customer_found"`
		Response      string `json:"response"`
	}
	err := c.post(ctx, opLookup, map[string]string{"customer_name": name}, &payload)
	if err != nil {
		return LookupResult{}, err
	}
	return LookupResult{Found: payload.CustomerFound, Message: payload.Response}, nil
}

// SendChatTurn forwards one user turn and returns the agent reply.
func (c *Client) SendChatTurn(ctx context.Context, text string) (ChatReply, error) {
	var payload struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, opChat, map[string]string{"text": text}, &payload); err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Message: payload.Response}, nil
}

// Ping issues a GET against the backend root to confirm it answers HTTP at all.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return 0, fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

func (c *Client) post(ctx context.Context, op string, body any, out any) (err error) {
	ctx, span := tracer.Start(ctx, "gateway."+op, trace.WithSpanKind(trace.SpanKindClient))
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if c.requests != nil {
			c.requests.Add(ctx, 1, metric.WithAttributes(
				attribute.String("op", op),
				attribute.String("outcome", outcome),
			))
		}
		c.logRequest(op, started, err)
		span.End()
	}()

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServerError{Op: op, Status: resp.StatusCode, Message: responseMessage(raw)}
	}

	return decodeBody(op, resp.StatusCode, raw, out)
}

// decodeBody accepts a plain JSON object, or the `[payload, status]` tuple some backends
// return with HTTP 200 when they meant to signal an error status.
func decodeBody(op string, status int, raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &ServerError{Op: op, Status: status, Err: errors.New("empty response body")}
	}

	if trimmed[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return &ServerError{Op: op, Status: status, Err: fmt.Errorf("decode response: %w", err)}
		}
		if len(tuple) == 0 {
			return &ServerError{Op: op, Status: status, Err: errors.New("empty response tuple")}
		}
		if len(tuple) > 1 {
			var embedded int
			if err := json.Unmarshal(tuple[1], &embedded); err == nil && embedded >= 400 {
				return &ServerError{Op: op, Status: embedded, Message: responseMessage(tuple[0])}
			}
		}
		trimmed = tuple[0]
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return &ServerError{Op: op, Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// responseMessage extracts the "response" field from an error body when present.
func responseMessage(raw []byte) string {
	var payload struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Response)
}

func (c *Client) logRequest(op string, started time.Time, err error) {
	if c.logger == nil {
		return
	}
	fields := []any{
		"op", op,
		"duration_ms", time.Since(started).Milliseconds(),
	}
	if err != nil {
		if status, ok := StatusOf(err); ok {
			fields = append(fields, "status", status)
		}
		c.logger.Warn("backend request failed", append(fields, "error", err.Error())...)
		return
	}
	c.logger.Debug("backend request complete", fields...)
}
