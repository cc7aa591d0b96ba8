// Package metrics exposes the Prometheus counters and gauges named in
// SPEC_FULL.md §6, served over gin alongside a liveness endpoint,
// grounded on the teacher's cmd/metrics-server/main.go exporter.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScrapsCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraps_collected_total",
		Help: "Total scraps returned by collector plugins.",
	})

	ScrapsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraps_published_total",
		Help: "Total scraps published to the bus, by source.",
	}, []string{"source"})

	ScrapsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraps_processed_total",
		Help: "Total scraps that reached a terminal state, by state.",
	}, []string{"state"})

	ChunksIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chunks_indexed_total",
		Help: "Total chunks written to the Elastic store.",
	})

	InflightHashes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inflight_hashes",
		Help: "Current in-flight hash set size, by stage.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(ScrapsCollected, ScrapsPublished, ScrapsProcessed, ChunksIndexed, InflightHashes)
}

// Server serves /metrics and /healthz on its own HTTP listener.
type Server struct {
	addr   string
	engine *gin.Engine
	srv    *http.Server
}

// InFlightGauges polled by Server to keep the inflight_hashes gauge
// current without the stages importing this package directly.
type InFlightGauges struct {
	Collector  func() int
	Processing func() int
}

// NewServer builds the metrics HTTP server bound to addr (e.g. ":9109").
func NewServer(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return &Server{
		addr:   addr,
		engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine},
	}
}

// Run starts the HTTP listener and a background gauge sampler, blocking
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context, gauges InFlightGauges) error {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if gauges.Collector != nil {
					InflightHashes.WithLabelValues("collector").Set(float64(gauges.Collector()))
				}
				if gauges.Processing != nil {
					InflightHashes.WithLabelValues("processing").Set(float64(gauges.Processing()))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
