package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusServer exposes health, metrics, and the schedule/subagent listings
// cmd/nexus schedule|subagent consume from a separate process.
//
// Grounded on internal/gateway/http_server.go's mux-of-handlers shape
// (promhttp.Handler on /metrics, a /healthz handler), trimmed of the web UI,
// webhook, and WebSocket control-plane mounts that belong to scope this
// runtime doesn't implement.
type statusServer struct {
	server   *http.Server
	listener net.Listener
}

func startStatusServer(rt *runtime, addr string) (*statusServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/schedule", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		tasks, err := rt.scheduler.ListBySession(r.Context(), sessionID)
		writeJSON(w, tasks, err)
	})
	mux.HandleFunc("/v1/subagent", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		tasks := rt.subagents.ListBySession(sessionID)
		writeJSON(w, tasks, nil)
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nexus: status server listen: %w", err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s := &statusServer{server: srv, listener: listener}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "status server error: %v\n", err)
		}
	}()

	return s, nil
}

func (s *statusServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any, err error) {
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
