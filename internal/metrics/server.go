package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
)

// Server exposes the Prometheus scrape endpoint
type Server struct {
	port   int
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates a metrics server on the given port
func NewServer(port int) *Server {
	return &Server{
		port: port,
		log:  config.NewLogger("metrics_server"),
	}
}

// Start begins serving /metrics in a background goroutine
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Int("port", s.port).Msg("Starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Shutdown stops the metrics server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info().Msg("Shutting down metrics server")
	return s.server.Shutdown(ctx)
}

var (
	seenTiersMu sync.Mutex
	seenTiers   = make(map[string]struct{})
)

// UpdatePopulation refreshes the per-tier gauges and capital utilization
// from a pass over the registry. Tiers that held strategies on an earlier
// pass but are empty now are reset to zero rather than left stale.
func UpdatePopulation(byTier map[string]int, utilization float64) {
	seenTiersMu.Lock()
	for status := range seenTiers {
		if _, ok := byTier[status]; !ok {
			StrategiesByTier.WithLabelValues(status).Set(0)
		}
	}
	for status, count := range byTier {
		seenTiers[status] = struct{}{}
		StrategiesByTier.WithLabelValues(status).Set(float64(count))
	}
	seenTiersMu.Unlock()

	CapitalUtilization.Set(utilization)
}
