/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpserver serves the local-only admin surface: /healthz,
// /status, and /metrics. It listens on the configured admin address
// (loopback by default) and has no auth layer.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conductorhq/conductor/internal/telemetry/metrics"
	"github.com/conductorhq/conductor/pkg/notify"
)

// StatusProvider supplies the live counts /status renders. The
// orchestrator implements it over its own state snapshot.
type StatusProvider interface {
	Status() notify.ProgressCounts
}

// Server is the admin HTTP surface.
type Server struct {
	http *http.Server
}

// Handler exposes the underlying router for tests that want to drive
// it with httptest.NewServer instead of a real listening port.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// New builds a Server listening on addr. m may be nil, in which case
// /metrics is not served.
func New(addr string, status StatusProvider, m *metrics.Metrics) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status.Status())
	})

	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	return &Server{http: &http.Server{Addr: addr, Handler: r}}
}

// Run starts serving and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
