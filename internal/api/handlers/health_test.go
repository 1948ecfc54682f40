package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

type checkerStub struct{ err error }

func (c checkerStub) HealthCheck(context.Context) error { return c.err }

type counterStub int64

func (c counterStub) Active() int64 { return int64(c) }

type statsStub relay.Stats

func (s statsStub) Snapshot() relay.Stats { return relay.Stats(s) }

func TestHealthHandler_Root(t *testing.T) {
	t.Parallel()

	h := NewHealthHandler("chain", nil, nil, nil)
	rr := httptest.NewRecorder()
	h.Root(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body rootResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Model != "chain" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthHandler_Health(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		checker      UpstreamChecker
		wantUpstream string
	}{
		{"upstream ok", checkerStub{}, "ok"},
		{"upstream down", checkerStub{err: errors.New("connection refused")}, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHealthHandler("chain", tt.checker, counterStub(2), statsStub{Opened: 5, Completed: 3})
			rr := httptest.NewRecorder()
			h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			var body healthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Upstream != tt.wantUpstream {
				t.Errorf("expected upstream %q, got %q", tt.wantUpstream, body.Upstream)
			}
			if body.ActiveSessions != 2 {
				t.Errorf("expected 2 active sessions, got %d", body.ActiveSessions)
			}
			if body.Sessions == nil || body.Sessions.Opened != 5 || body.Sessions.Completed != 3 {
				t.Errorf("unexpected session stats %+v", body.Sessions)
			}
		})
	}
}
