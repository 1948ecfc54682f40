package llm

// Ollama HTTP adapter. Endpoints used:
//   - POST /api/chat  streaming chat (NDJSON, one object per line)
//   - GET  /api/tags  health check (lists available models)

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	mimeJSON          = "application/json"
	mimeNDJSON        = "application/x-ndjson"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerUserAgent   = "User-Agent"

	maxErrorBody = 4 << 10
)

// OllamaProvider implements Provider against a running Ollama instance.
type OllamaProvider struct {
	baseURL    string
	model      string
	userAgent  string
	httpClient *http.Client
}

var _ Provider = &OllamaProvider{}

// Option configures an OllamaProvider.
type Option func(*OllamaProvider)

// WithHTTPClient replaces the default client, which has no overall timeout:
// a stream lasts as long as the generation does.
func WithHTTPClient(c *http.Client) Option {
	return func(p *OllamaProvider) { p.httpClient = c }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(p *OllamaProvider) { p.userAgent = ua }
}

// NewOllamaProvider creates an OllamaProvider for baseURL (e.g. http://localhost:11434).
func NewOllamaProvider(baseURL, model string, opts ...Option) *OllamaProvider {
	p := &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	Path       string
	StatusCode int
	Message    string // engine's "error" field, or the raw body
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s: status %d: %s", e.Path, e.StatusCode, e.Message)
}

// ─── internal Ollama JSON types ──────────────────────────────────────────────

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

// ChatStream posts to /api/chat with stream=true and returns the NDJSON body.
// The call returns once response headers arrive.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	msgs := make([]ollamaChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaChatMessage(m)
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: encode request: %w", err)
	}
	return p.doPost(ctx, "/api/chat", body)
}

// ModelInfo returns static metadata for this provider/model.
func (p *OllamaProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.model, Provider: "ollama", BaseURL: p.baseURL}
}

// HealthCheck calls GET /api/tags and returns nil if Ollama is reachable.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: build request: %w", err)
	}
	p.setCommonHeaders(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: "/api/tags", StatusCode: resp.StatusCode}
	}
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// doPost sends a POST request to baseURL+path and returns the response body.
// Caller is responsible for closing the returned ReadCloser.
func (p *OllamaProvider) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama post %s: build request: %w", path, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set(headerAccept, mimeNDJSON)
	p.setCommonHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama post %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close() //nolint:errcheck
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	return resp.Body, nil
}

func (p *OllamaProvider) setCommonHeaders(req *http.Request) {
	if p.userAgent != "" {
		req.Header.Set(headerUserAgent, p.userAgent)
	}
}

// readErrorMessage extracts {"error": "..."} from an error body, falling back to the raw text.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e ollamaErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
