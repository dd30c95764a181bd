package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/life-stream-dev/argus/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsServerInstance *http.Server //nolint:gochecknoglobals // singleton metrics server
	once                  sync.Once    //nolint:gochecknoglobals // guards metrics server start
)

// StartMetricsServer serves /metrics on addr in the background; later calls are ignored.
func StartMetricsServer(addr string) {
	once.Do(func() {
		sm := http.NewServeMux()
		sm.Handle("/metrics", promhttp.Handler())

		metricsServerInstance = &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 15 * time.Second,
			Handler:           sm,
		}

		go func() {
			logger.InfoF("Starting metrics server on %s", addr)

			if err := metricsServerInstance.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorF("Metrics server failed: %v", err)
			}
		}()
	})
}

// StopMetricsServer satisfies event.Callable.
type StopMetricsServer struct{}

func (StopMetricsServer) Invoke(ctx context.Context) error {
	if metricsServerInstance == nil {
		return nil
	}
	return metricsServerInstance.Shutdown(ctx)
}
