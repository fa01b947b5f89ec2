package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bibekanandan892/peerchat/internal/config"
	"github.com/bibekanandan892/peerchat/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer serves /metrics when metrics.listen is set. With an empty
// address Start and Stop do nothing.
type MetricsServer struct {
	listen string
	srv    *http.Server
	addr   net.Addr
	logger *zap.Logger
}

// NewMetricsServer prepares the metrics endpoint.
func NewMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &MetricsServer{
		listen: cfg.Metrics.Listen,
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *MetricsServer) Start() error {
	if s.listen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("metrics server starting", zap.String("addr", s.addr.String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, nil until started.
func (s *MetricsServer) Addr() net.Addr { return s.addr }

// Stop shuts the endpoint down.
func (s *MetricsServer) Stop(ctx context.Context) {
	if s.addr == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
