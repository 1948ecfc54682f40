package relayclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/internal/domain/frame"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

func chatReq() relay.ChatRequest {
	return relay.NewChatRequest("chain", []conversation.Message{{Role: conversation.RoleUser, Content: "hello"}})
}

func sse(lines ...[]byte) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.Write(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestClient_Open_DecodesStream(t *testing.T) {
	var gotToken, gotAccept, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotToken = r.Header.Get("X-Local-Token")
		gotAccept = r.Header.Get(headerAccept)
		gotUA = r.Header.Get(headerUserAgent)
		w.Header().Set(headerContentType, mimeEventStream)
		_, _ = io.WriteString(w, sse(frame.Encode("H", false), frame.Encode("i", false), frame.Encode("!", true)))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "s3cret", WithUserAgent("velune/test"))
	r, err := c.Open(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close() //nolint:errcheck

	var content string
	for ev, err := range r.Events() {
		if err != nil {
			t.Fatalf("event error: %v", err)
		}
		content += ev.Delta
	}
	if content != "Hi!" {
		t.Errorf("content = %q; want Hi!", content)
	}
	if !r.Terminated() {
		t.Error("expected terminal event")
	}
	if gotToken != "s3cret" || gotAccept != mimeEventStream || gotUA != "velune/test" {
		t.Errorf("unexpected headers token=%q accept=%q ua=%q", gotToken, gotAccept, gotUA)
	}
}

func TestClient_Open_CustomTokenHeaderAndNoToken(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_, _ = io.WriteString(w, sse(frame.Encode("", true)))
	}))
	defer srv.Close()

	c := New(srv.URL, "", WithTokenHeader("X-Api-Token"))
	r, err := c.Open(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = r.Close()
	if _, ok := headers["X-Api-Token"]; ok {
		t.Error("an empty token must not be sent")
	}
}

func TestClient_Open_StatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   relay.Kind
		wantDetail string
	}{
		{"validation", http.StatusBadRequest, `{"detail":"Invalid model \"x\". Use 'chain'."}`, relay.KindValidation, `Invalid model "x". Use 'chain'.`},
		{"too large", http.StatusRequestEntityTooLarge, `{"detail":"request body exceeds 1024 bytes."}`, relay.KindValidation, "request body exceeds 1024 bytes."},
		{"auth", http.StatusUnauthorized, `{"detail":"Invalid or missing token."}`, relay.KindAuth, "Invalid or missing token."},
		{"unavailable", http.StatusBadGateway, `{"detail":"upstream unavailable"}`, relay.KindUpstreamUnavailable, "upstream unavailable"},
		{"timeout", http.StatusGatewayTimeout, `{"detail":"upstream did not respond in time"}`, relay.KindUpstreamTimeout, "upstream did not respond in time"},
		{"unknown status", http.StatusInternalServerError, `oops`, relay.KindUpstreamUnavailable, "oops"},
		{"empty body", http.StatusBadGateway, ``, relay.KindUpstreamUnavailable, "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "tok").Open(context.Background(), chatReq())
			var re *relay.Error
			if !errors.As(err, &re) {
				t.Fatalf("expected *relay.Error, got %T %v", err, err)
			}
			if re.Kind != tt.wantKind {
				t.Errorf("kind = %s; want %s", re.Kind, tt.wantKind)
			}
			if re.Detail != tt.wantDetail {
				t.Errorf("detail = %q; want %q", re.Detail, tt.wantDetail)
			}
		})
	}
}

func TestClient_Open_AuthFailureClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid or missing token."}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "stale")
	if _, err := c.Open(context.Background(), chatReq()); !relay.IsKind(err, relay.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if c.Token() != "" {
		t.Fatalf("expected token cleared, got %q", c.Token())
	}
}

func TestClient_Open_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "").Open(context.Background(), chatReq())
	if !relay.IsKind(err, relay.KindUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}

func TestClient_Open_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, "").Open(ctx, chatReq())
	if !relay.IsKind(err, relay.KindCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok","model":"chain"}`)
	}))
	defer srv.Close()

	model, err := New(srv.URL, "").Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if model != "chain" {
		t.Fatalf("model = %q; want chain", model)
	}
}
