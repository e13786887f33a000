// Package health provides the HTTP liveness, readiness and metrics surface of the block manager.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/disk"
)

// Checker is a named health check.
type Checker struct {
	Name  string
	Check healthcheck.Check
}

// Options configures a health Server.
type Options struct {
	Address       string
	Namespace     string
	MaxGoroutines int
	CheckTimeout  time.Duration
	Liveness      []Checker
	Readiness     []Checker
	Registerer    prometheus.Registerer
	Gatherer      prometheus.Gatherer
}

// Server serves /live, /ready and /metrics.
type Server struct {
	handler healthcheck.Handler
	mux     *http.ServeMux
	srv     *http.Server
	addr    net.Addr
}

// NewServer builds the handler tree. Check statuses are exported on opts.Registerer.
func NewServer(opts Options) *Server {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = time.Second
	}
	h := healthcheck.NewMetricsHandler(opts.Registerer, opts.Namespace)
	if opts.MaxGoroutines > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
	for _, c := range opts.Liveness {
		h.AddLivenessCheck(c.Name, healthcheck.Timeout(c.Check, opts.CheckTimeout))
	}
	for _, c := range opts.Readiness {
		h.AddReadinessCheck(c.Name, healthcheck.Timeout(c.Check, opts.CheckTimeout))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/live", h.LiveEndpoint)
	mux.HandleFunc("/ready", h.ReadyEndpoint)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return &Server{
		handler: h,
		mux:     mux,
		srv: &http.Server{
			Addr:              opts.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the root handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr()
	go func() {
		_ = s.srv.Serve(ln)
	}()
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// DiskSpaceCheck fails when path is not accessible or has less than minFree bytes free.
func DiskSpaceCheck(path string, minFree uint64) healthcheck.Check {
	return func() error {
		stat, err := disk.Usage(path)
		if err != nil {
			return fmt.Errorf("disk usage %s: %w", path, err)
		}
		if stat.Free < minFree {
			return fmt.Errorf("%s has %d bytes free, need %d", path, stat.Free, minFree)
		}
		return nil
	}
}
