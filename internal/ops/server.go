// Package ops serves the operational HTTP endpoints: health, prometheus
// metrics, and an aggregate status snapshot.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambotlabs/ambot/internal/queue"
	"github.com/ambotlabs/ambot/internal/storage"
)

// Server is the ops HTTP server.
type Server struct {
	storage  *storage.Storage
	pool     *queue.Pool
	registry *prometheus.Registry
	log      *slog.Logger

	server *http.Server
}

// NewServer creates an ops server.
func NewServer(store *storage.Storage, pool *queue.Pool, registry *prometheus.Registry, log *slog.Logger) *Server {
	return &Server{
		storage:  store,
		pool:     pool,
		registry: registry,
		log:      log,
	}
}

// Start starts the ops server and blocks until it exits. It shuts down
// gracefully when ctx is canceled.
func (s *Server) Start(ctx context.Context, port int) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting ops server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Stats(r.Context(), time.Now())
	if err != nil {
		s.log.Error("status snapshot", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"total_users":       stats.TotalUsers,
		"coins_outstanding": stats.CoinsOutstanding,
		"jobs_today":        stats.JobsToday,
		"active_jobs":       int64(s.pool.ActiveUsers()),
	})
}
