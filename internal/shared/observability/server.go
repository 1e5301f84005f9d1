package observability

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
)

var serverLog = commonlog.GetLogger("msls.observability")

// HealthFunc reports the server's current health snapshot.
type HealthFunc func(ctx context.Context) HealthStatus

type HealthStatus struct {
	Status        string `json:"status"`
	OpenDocuments int    `json:"openDocuments"`
	GraphModules  int    `json:"graphModules"`
	CacheEntries  int    `json:"cacheEntries"`
}

// Server exposes /metrics and /health on a side port, away from the LSP
// transport.
type Server struct {
	addr   string
	health HealthFunc
	server *http.Server
}

func NewServer(addr string, health HealthFunc) *Server {
	return &Server{addr: addr, health: health}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	s.server = &http.Server{Addr: s.addr, Handler: mux}

	serverLog.Noticef("observability server starting on %s", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLog.Errorf("observability server failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
