package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
)

// MetricsServer serves /metrics over HTTP.
type MetricsServer struct {
	srv *http.Server
	log logging.Logger
}

// NewMetricsServer mounts handler at /metrics on addr. It returns nil when
// addr is empty.
func NewMetricsServer(addr string, handler http.Handler, log logging.Logger) *MetricsServer {
	if addr == "" || handler == nil {
		return nil
	}
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Run serves until ctx is cancelled, then shuts down within five seconds.
func (m *MetricsServer) Run(ctx context.Context) error {
	if m == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() {
		m.log.Info(ctx, "serving Prometheus metrics", logging.String("addr", m.srv.Addr))
		errCh <- m.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		// Metrics failures are not fatal.
		m.log.Warn(ctx, "metrics server exited", logging.Err(err))
		<-ctx.Done()
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.srv.Shutdown(shutdownCtx)
}
