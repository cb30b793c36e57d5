package secchord

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/internal/evidence"
	routingsc "github.com/dep2p/go-secchord/internal/routing/secchord"
	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/internal/rpc/quic"
	"github.com/dep2p/go-secchord/internal/storage"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
)

var fxLogger = log.Logger("secchord/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Storage: BadgerDB 引擎（证据持久化时）
//  2. Evidence: 证据记录器
//  3. Transport: 外部分发器或 QUIC 传输，外加限速装饰
//  4. Metrics: Prometheus 注册表与 /metrics 服务
//  5. Routing: 迭代器工厂
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	cfg := o.config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if o.local == nil {
		return nil, ErrNoLocalNode
	}

	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Provide(func() interfaces.LocalNode { return o.local }),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 存储与证据（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	if cfg.Evidence.Enable && cfg.Evidence.Persist {
		modules = append(modules, storage.Module)
	}
	modules = append(modules, evidence.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 3. 传输层
	// ════════════════════════════════════════════════════════════════════════
	switch {
	case o.dispatcher != nil:
		d := o.dispatcher
		modules = append(modules, fx.Provide(
			fx.Annotate(func() interfaces.Dispatcher { return d }, fx.ResultTags(`name:"base_dispatcher"`)),
		))
	case cfg.RPC.Transport == config.TransportQUIC:
		if r, ok := o.local.(interfaces.Responder); ok {
			modules = append(modules, fx.Provide(func() interfaces.Responder { return r }))
		}
		modules = append(modules,
			quic.Module,
			fx.Provide(fx.Annotate(
				func(t *quic.Transport) interfaces.Dispatcher { return t.Client() },
				fx.ResultTags(`name:"base_dispatcher"`),
			)),
		)
	default:
		return nil, ErrNoDispatcher
	}
	modules = append(modules, fx.Provide(provideDispatcher))

	// ════════════════════════════════════════════════════════════════════════
	// 4. 指标（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	if cfg.Metrics.Enable {
		reg := o.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		modules = append(modules, fx.Provide(
			func() prometheus.Registerer { return reg },
			func() prometheus.Gatherer { return reg },
		))
		if cfg.Metrics.ListenAddr != "" {
			modules = append(modules, fx.Invoke(registerMetricsServer(node)))
		}
	}

	// ════════════════════════════════════════════════════════════════════════
	// 5. 安全路由
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, routingsc.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 6. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 7. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// ════════════════════════════════════════════════════════════════════════
	// 8. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		fxLogger.Error("Fx 应用构建失败", "error", err)
		return nil, err
	}
	fxLogger.Debug("Fx 应用已构建",
		"transport", cfg.RPC.Transport,
		"evidence", cfg.Evidence.Enable,
		"metrics", cfg.Metrics.Enable)
	return app, nil
}

// ════════════════════════════════════════════════════════════════════════════
// 分发器装配
// ════════════════════════════════════════════════════════════════════════════

// dispatcherParams 分发器装配参数
type dispatcherParams struct {
	fx.In

	Base   interfaces.Dispatcher `name:"base_dispatcher"`
	Config *config.Config
}

// provideDispatcher 为基础分发器加上按目标限速
func provideDispatcher(p dispatcherParams) (interfaces.Dispatcher, error) {
	rc := p.Config.RPC
	if rc.RateLimit <= 0 {
		return p.Base, nil
	}
	return rpc.RateLimited(p.Base, rpc.LimiterConfig{
		Rate:            rc.RateLimit,
		Burst:           rc.RateBurst,
		MaxDestinations: rc.MaxDestinations,
		Wait:            true,
	})
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入辅助函数
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Factory    *routingsc.Factory
	Dispatcher interfaces.Dispatcher
	Recorder   *evidence.Recorder  `optional:"true"`
	Transport  *quic.Transport     `optional:"true"`
	Gatherer   prometheus.Gatherer `optional:"true"`
}

// injectNodeComponents 将 Fx 构建的组件注入 Node
func injectNodeComponents(node *Node) interface{} {
	return func(params nodeInjectParams) {
		node.factory = params.Factory
		node.dispatcher = params.Dispatcher
		node.recorder = params.Recorder
		node.transport = params.Transport
		node.gatherer = params.Gatherer
	}
}
