package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/infra/config"
)

func TestNewServer_ConfiguresAddressAndTimeouts(t *testing.T) {
	cfg := config.Default().Server
	cfg.Port = 18080
	s := NewServer(http.NotFoundHandler(), cfg, zerolog.Nop())

	if s.http.Addr != "127.0.0.1:18080" {
		t.Fatalf("Addr = %q; want %q", s.http.Addr, "127.0.0.1:18080")
	}
	if s.http.Handler == nil {
		t.Fatal("Handler should not be nil")
	}
	if s.http.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v; want %v", s.http.ReadHeaderTimeout, 10*time.Second)
	}
	if s.http.WriteTimeout != 0 {
		t.Fatalf("WriteTimeout = %v; streams need it unbounded", s.http.WriteTimeout)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	s := NewServer(handler, config.Default().Server, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background(), ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q; want ok", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v after shutdown; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServer_BaseContextCancelsRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})
	s := NewServer(handler, config.Default().Server, zerolog.Nop())

	ctx, stop := context.WithCancel(context.Background())
	go func() { _ = s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	<-started
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown with a cancelled stream: %v", err)
	}
}

func TestServer_ShutdownTimeout(t *testing.T) {
	cfg := config.Default().Server
	cfg.ShutdownTimeout = 3 * time.Second
	s := NewServer(http.NotFoundHandler(), cfg, zerolog.Nop())
	if got := s.ShutdownTimeout(); got != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v; want 3s", got)
	}
}
