package secchord

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/dep2p/go-secchord/config"
)

// metricsReadHeaderTimeout /metrics 请求头读取超时
const metricsReadHeaderTimeout = 5 * time.Second

// registerMetricsServer 在配置的地址上提供 /metrics
func registerMetricsServer(node *Node) interface{} {
	return func(lc fx.Lifecycle, cfg *config.Config, g prometheus.Gatherer) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

		lc.Append(fx.Hook{
			OnStart: func(_ context.Context) error {
				ln, err := net.Listen("tcp", cfg.Metrics.ListenAddr)
				if err != nil {
					return err
				}
				node.metricsAddr = ln.Addr().String()
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Warn("指标服务退出", "error", err)
					}
				}()
				logger.Info("指标服务已启动", "addr", node.metricsAddr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}
}
