package common

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness probes for binaries that do
// not otherwise serve HTTP.
type HealthServer struct {
	ready  *atomic.Bool
	server *http.Server
}

// NewHealthServer builds a probe server on addr. Readiness reports 503 until
// ready is set.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	hs := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/liveness", hs.liveness)
	mux.HandleFunc("GET /v1/readiness", hs.readiness)

	hs.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return hs
}

// Server returns the underlying http.Server.
func (hs *HealthServer) Server() *http.Server { return hs.server }

// Handler returns the probe handler, mostly for tests.
func (hs *HealthServer) Handler() http.Handler { return hs.server.Handler }

func (hs *HealthServer) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (hs *HealthServer) readiness(w http.ResponseWriter, _ *http.Request) {
	if !hs.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
