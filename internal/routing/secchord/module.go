package secchord

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/pkg/interfaces"
)

// Module 安全路由 Fx 模块
var Module = fx.Module("routing_secchord",
	fx.Provide(
		NewFromParams,
	),
	fx.Invoke(registerLifecycle),
)

// Params 安全路由依赖参数
type Params struct {
	fx.In

	Local      interfaces.LocalNode
	Dispatcher interfaces.Dispatcher
	UnifiedCfg *config.Config              `optional:"true"`
	Evidence   interfaces.EvidenceRecorder `optional:"true"`
	Registerer prometheus.Registerer       `optional:"true"`
}

// Result 安全路由导出结果
type Result struct {
	fx.Out

	Factory      *Factory
	RouteFactory interfaces.RouteFactory
}

// ConfigFromUnified 从统一配置创建路由配置
func ConfigFromUnified(cfg *config.Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	r := cfg.Routing
	return &Config{
		SuccListSize:  r.SuccListSize,
		Quorum:        r.EffectiveQuorum(),
		MaxHopRetries: r.MaxHopRetries,
		MaxHops:       r.MaxHops,
		MaxBacktracks: r.MaxBacktracks,
		RPCTimeout:    r.RPCTimeout.Duration(),
	}
}

// NewFromParams 从 Fx 参数创建迭代器工厂
func NewFromParams(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)

	var opts []FactoryOption
	if p.Evidence != nil {
		opts = append(opts, WithEvidenceRecorder(p.Evidence))
	}
	if p.Registerer != nil && (p.UnifiedCfg == nil || p.UnifiedCfg.Metrics.Enable) {
		m, err := NewMetrics(p.Registerer)
		if err != nil {
			return Result{}, err
		}
		opts = append(opts, WithMetrics(m))
	}

	f, err := NewFactory(cfg, p.Local, p.Dispatcher, opts...)
	if err != nil {
		return Result{}, err
	}
	return Result{Factory: f, RouteFactory: f}, nil
}

func registerLifecycle(lc fx.Lifecycle, f *Factory) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("安全路由已启动",
				"self", f.Local().Self().String(),
				"succListSize", f.cfg.SuccListSize,
				"quorum", f.cfg.Quorum)
			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("正在停止安全路由", "live", f.Live())
			return f.Close()
		},
	})
}
