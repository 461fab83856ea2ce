// Package rpc talks to the chat backend: query/mutation functions plus a few
// conditional REST resources.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/observability"
)

const (
	queryPath    = "/api/query"
	mutationPath = "/api/mutation"
)

// Client is safe for concurrent use.
type Client struct {
	origin *url.URL
	token  string
	http   *http.Client
}

// NewClient builds a client for the backend at origin. A nil httpClient gets
// a default with a 15s timeout.
func NewClient(origin, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api origin %q: scheme must be http or https", origin)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{origin: u, token: token, http: httpClient}, nil
}

// WebsocketURL derives the transport endpoint from the API origin.
func (c *Client) WebsocketURL() string {
	u := *c.origin
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Token is the bearer credential sent with every request to the origin.
func (c *Client) Token() string {
	return c.token
}

type functionCall struct {
	Path string `json:"path"`
	Args any    `json:"args"`
}

type functionResult struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"errorMessage"`
}

// Query runs a read function and decodes its value into out.
func (c *Client) Query(ctx context.Context, path string, args, out any) error {
	return c.call(ctx, queryPath, path, args, out)
}

// Mutation runs a write function and decodes its value into out.
func (c *Client) Mutation(ctx context.Context, path string, args, out any) error {
	return c.call(ctx, mutationPath, path, args, out)
}

func (c *Client) call(ctx context.Context, endpoint, path string, args, out any) (err error) {
	ctx, span := otel.Tracer("chat-sync/rpc").Start(ctx, "rpc "+path, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("rpc.function", path))
	start := time.Now()
	defer func() {
		finish(span, path, start, err)
	}()

	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(functionCall{Path: path, Args: args})
	if err != nil {
		return fmt.Errorf("encode %s args: %w", path, err)
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}

	var result functionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &Error{Op: path, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	if result.Status != "success" {
		msg := result.ErrorMessage
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Op: path, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Value, out); err != nil {
		return fmt.Errorf("%s: decode value: %w", path, err)
	}
	return nil
}

// Resource is the body of a conditional GET.
type Resource struct {
	NotModified bool
	Data        []byte
	ETag        string
}

// Fetch issues a GET for path, conditional on etag when it is not empty.
func (c *Client) Fetch(ctx context.Context, path, etag string) (res Resource, err error) {
	ctx, span := otel.Tracer("chat-sync/rpc").Start(ctx, "GET "+path, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.path", path), attribute.Bool("http.conditional", etag != ""))
	start := time.Now()
	defer func() {
		finish(span, "fetch", start, err)
	}()

	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, header)
	if err != nil {
		return Resource{}, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Resource{NotModified: true, ETag: etag}, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Resource{}, fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Resource{}, &Error{Op: "GET " + path, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return Resource{Data: data, ETag: resp.Header.Get("ETag")}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, err
	}
	// Absolute links may point at third-party hosts; only the backend gets
	// the credential.
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" && c.sameOrigin(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return c.http.Do(req)
}

// resolve joins path onto the origin. Absolute URLs, such as icon links, are
// used as they are.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	target := *c.origin
	target.Path = strings.TrimRight(target.Path, "/") + path
	return target.String()
}

func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func finish(span trace.Span, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.ObserveRPC(op, status, time.Since(start))
	span.End()
}
