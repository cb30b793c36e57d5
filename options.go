package secchord

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/pkg/interfaces"
)

// Option 用户配置选项函数
//
// 选项按传入顺序应用；WithConfig / WithConfigFile 会替换整份配置，
// 因此应放在其他配置类选项之前。
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 统一配置
	config *config.Config

	// 本地路由状态（必需）
	local interfaces.LocalNode

	// 外部分发器（sim 传输必需）
	dispatcher interfaces.Dispatcher

	// 指标注册表，为空时自动创建
	registry *prometheus.Registry

	// 用户扩展 Fx 选项
	userFxOptions []fx.Option
}

func newOptions() *options {
	return &options{config: config.NewConfig()}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用给定的统一配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("%w: config", ErrNilOption)
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载统一配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithPreset 应用预设（"test" / "hardened"）
func WithPreset(name string) Option {
	return func(o *options) error {
		return config.ApplyPreset(o.config, name)
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              协作者
// ════════════════════════════════════════════════════════════════════════════

// WithLocalNode 设置查找发起方的本地路由状态
//
// 若 n 同时实现 interfaces.Responder，QUIC 传输会用它回答远端请求。
func WithLocalNode(n interfaces.LocalNode) Option {
	return func(o *options) error {
		if n == nil {
			return fmt.Errorf("%w: local node", ErrNilOption)
		}
		o.local = n
		return nil
	}
}

// WithDispatcher 使用外部分发器（如仿真网络），不再创建 QUIC 传输
func WithDispatcher(d interfaces.Dispatcher) Option {
	return func(o *options) error {
		if d == nil {
			return fmt.Errorf("%w: dispatcher", ErrNilOption)
		}
		o.dispatcher = d
		return nil
	}
}

// WithRegistry 使用外部 Prometheus 注册表
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) error {
		o.registry = reg
		return nil
	}
}

// WithFxOption 追加自定义 Fx 选项
func WithFxOption(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置覆盖
// ════════════════════════════════════════════════════════════════════════════

// WithSuccListSize 设置后继列表长度
func WithSuccListSize(n int) Option {
	return func(o *options) error {
		o.config.Routing.SuccListSize = n
		return nil
	}
}

// WithQuorum 设置法定数，0 表示取多数
func WithQuorum(q int) Option {
	return func(o *options) error {
		o.config.Routing.Quorum = q
		return nil
	}
}

// WithRPCTimeout 设置单次路由 RPC 超时
func WithRPCTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.config.Routing.RPCTimeout = config.Duration(d)
		return nil
	}
}

// WithTransport 设置传输类型
func WithTransport(kind string) Option {
	return func(o *options) error {
		o.config.RPC.Transport = kind
		return nil
	}
}

// WithListenAddr 设置 QUIC 监听地址
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.config.RPC.ListenAddr = addr
		return nil
	}
}

// WithRateLimit 设置按目标的调用限速，rate 为 0 时关闭
func WithRateLimit(rate float64, burst int) Option {
	return func(o *options) error {
		o.config.RPC.RateLimit = rate
		o.config.RPC.RateBurst = burst
		return nil
	}
}

// WithDataDir 设置数据目录
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.config.Storage.DataDir = dir
		o.config.Storage.InMemory = false
		return nil
	}
}

// WithInMemoryStorage 使用内存存储
func WithInMemoryStorage() Option {
	return func(o *options) error {
		o.config.Storage.InMemory = true
		return nil
	}
}

// WithEvidence 开关证据记录
func WithEvidence(enable, persist bool) Option {
	return func(o *options) error {
		o.config.Evidence.Enable = enable
		o.config.Evidence.Persist = persist
		return nil
	}
}

// WithMetrics 开关指标，addr 非空时对外提供 /metrics
func WithMetrics(enable bool, addr string) Option {
	return func(o *options) error {
		o.config.Metrics.Enable = enable
		o.config.Metrics.ListenAddr = addr
		return nil
	}
}
