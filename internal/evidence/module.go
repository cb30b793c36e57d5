package evidence

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/internal/storage"
	"github.com/dep2p/go-secchord/internal/storage/kv"
	"github.com/dep2p/go-secchord/pkg/interfaces"
)

// Params 证据模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Engine     storage.Engine `optional:"true"`
}

// Result 证据模块导出结果
//
// 证据记录关闭时两个字段都为 nil。
type Result struct {
	fx.Out

	Recorder         *Recorder
	EvidenceRecorder interfaces.EvidenceRecorder
}

// Module 证据 Fx 模块
var Module = fx.Module("evidence",
	fx.Provide(ProvideRecorder),
)

// ConfigFromUnified 从统一配置生成证据配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		SuspectThreshold: cfg.Evidence.SuspectThreshold,
		TrackerSize:      cfg.Evidence.TrackerSize,
	}
}

// ProvideRecorder 创建证据记录器
func ProvideRecorder(p Params) (Result, error) {
	if p.UnifiedCfg != nil && !p.UnifiedCfg.Evidence.Enable {
		logger.Info("证据记录已关闭")
		return Result{}, nil
	}

	var opts []Option
	persist := p.UnifiedCfg == nil || p.UnifiedCfg.Evidence.Persist
	if persist && p.Engine != nil {
		opts = append(opts, WithLedger(kv.New(p.Engine, LedgerPrefix)))
	}

	r, err := NewRecorder(ConfigFromUnified(p.UnifiedCfg), opts...)
	if err != nil {
		return Result{}, err
	}
	logger.Debug("证据记录器已创建", "ledger", r.ledger != nil, "threshold", r.cfg.SuspectThreshold)
	return Result{Recorder: r, EvidenceRecorder: r}, nil
}
