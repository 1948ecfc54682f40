// Package api wires the relay's HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/api/handlers"
	apimw "github.com/matiasleandrokruk/velune/internal/api/middleware"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

// Deps are the collaborators the router needs. Upstream and Stats may be nil.
type Deps struct {
	Relay           *relay.Relay
	Upstream        handlers.UpstreamChecker
	Stats           handlers.StatsSource
	TokenHeader     string
	MaxRequestBytes int64
	Logger          zerolog.Logger
}

// NewRouter creates the chi router with every relay route.
//
//	GET  /          liveness and public model
//	GET  /health    upstream probe and session counters
//	POST /api/chat  token-gated SSE chat stream
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.AccessLog(d.Logger))
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(d.Relay.Model(), d.Upstream, d.Relay, d.Stats)
	r.Get("/", health.Root)
	r.Get("/health", health.Health)

	chat := handlers.NewChatHandler(d.Relay, d.MaxRequestBytes, d.Logger)
	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.Token(d.TokenHeader, d.Relay.Validator()))
		r.Post("/chat", chat.Chat)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not Found"}`))
	})
	return r
}
