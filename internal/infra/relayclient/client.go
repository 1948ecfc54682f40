// Package relayclient talks to a velune relay over HTTP.
//
// Endpoints used:
//   - POST /api/chat  streaming chat (server-sent events)
//   - GET  /          liveness and the public model name
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/domain/frame"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

const (
	mimeJSON          = "application/json"
	mimeEventStream   = "text/event-stream"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerUserAgent   = "User-Agent"

	defaultTokenHeader = "X-Local-Token"
	maxErrorBody       = 4 << 10
)

// Client opens chat streams against a relay. It is safe for concurrent use.
type Client struct {
	baseURL     string
	tokenHeader string
	userAgent   string
	httpClient  *http.Client
	log         zerolog.Logger

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which has no overall timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTokenHeader sets the header carrying the access token.
func WithTokenHeader(name string) Option {
	return func(cl *Client) { cl.tokenHeader = name }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithLogger logs skipped stream lines.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// New returns a Client for the relay at baseURL presenting token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokenHeader: defaultTokenHeader,
		httpClient:  &http.Client{},
		log:         zerolog.Nop(),
		token:       token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached access token. It is cleared after an auth failure.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken replaces the cached access token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type rootResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Open posts req and returns the decoded event stream once the relay committed
// to streaming. Failures are *relay.Error with the kind the relay reported.
func (c *Client) Open(ctx context.Context, req relay.ChatRequest) (*frame.Reader, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("relayclient chat: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relayclient chat: build request: %w", err)
	}
	httpReq.Header.Set(headerContentType, mimeJSON)
	httpReq.Header.Set(headerAccept, mimeEventStream)
	if token := c.Token(); token != "" {
		httpReq.Header.Set(c.tokenHeader, token)
	}
	c.setCommonHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close() //nolint:errcheck
		return nil, c.statusError(resp)
	}
	return frame.NewReader(resp.Body, frame.MarkerSSE, frame.WithLogger(c.log)), nil
}

// Ping checks that the relay is up and returns the model it serves.
func (c *Client) Ping(ctx context.Context) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", fmt.Errorf("relayclient ping: build request: %w", err)
	}
	c.setCommonHeaders(httpReq)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}
	var root rootResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&root); err != nil {
		return "", fmt.Errorf("relayclient ping: decode: %w", err)
	}
	return root.Model, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set(headerUserAgent, c.userAgent)
	}
}

// statusError rebuilds the relay's classification from the status code.
// An auth failure also drops the cached token so it is not presented again.
func (c *Client) statusError(resp *http.Response) error {
	kind := relay.KindForStatus(resp.StatusCode)
	if kind == relay.KindUnknown {
		kind = relay.KindUpstreamUnavailable
	}
	if kind == relay.KindAuth {
		c.SetToken("")
	}
	detail := readDetail(resp.Body)
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &relay.Error{Kind: kind, Detail: detail, Err: fmt.Errorf("relay status %d", resp.StatusCode)}
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return relay.NewError(relay.KindCancelled, err, "request cancelled")
	}
	return relay.NewError(relay.KindUpstreamUnavailable, err, "relay unreachable")
}

// readDetail extracts {"detail": "..."} from an error body, falling back to the raw text.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return strings.TrimSpace(string(raw))
}
