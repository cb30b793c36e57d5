package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-secchord/config"
)

// Params 存储模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 存储模块导出结果
type Result struct {
	fx.Out

	Engine Engine
}

// Module 存储 Fx 模块
//
// 提供:
//   - Engine: BadgerDB 存储引擎
//
// 生命周期:
//   - OnStop: 关闭引擎
var Module = fx.Module("storage",
	fx.Provide(ProvideEngine),
	fx.Invoke(registerLifecycle),
)

// ConfigFromUnified 从统一配置生成引擎配置
func ConfigFromUnified(cfg *config.Config) *Config {
	if cfg == nil || cfg.Storage.InMemory {
		return InMemoryConfig()
	}
	return DefaultConfig(cfg.Storage.DBPath())
}

// ProvideEngine 打开存储引擎
func ProvideEngine(p Params) (Result, error) {
	eng, err := OpenBadger(ConfigFromUnified(p.UnifiedCfg))
	if err != nil {
		logger.Error("创建存储引擎失败", "error", err)
		return Result{}, err
	}
	return Result{Engine: eng}, nil
}

func registerLifecycle(lc fx.Lifecycle, eng Engine) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				logger.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
}
