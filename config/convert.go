package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。
//
//	{
//	  "routing": {"succ_list_size": 8, "quorum": 5},
//	  "rpc": {"transport": "quic", "listen_addr": "0.0.0.0:7400"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Load 从文件加载并验证配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "test": 内存存储、短超时，适合单元测试和仿真
//   - "hardened": 更长的后继列表和更高的法定数
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch presetName {
	case "test":
		cfg.Storage.InMemory = true
		cfg.Routing.RPCTimeout = Duration(500 * time.Millisecond)
		cfg.RPC.RateLimit = 0
		cfg.Metrics.Enable = false
		cfg.Metrics.ListenAddr = ""
		return nil
	case "hardened":
		cfg.Routing.SuccListSize = 8
		cfg.Routing.Quorum = 5
		cfg.Routing.MaxHopRetries = 5
		cfg.Routing.MaxBacktracks = 4
		cfg.Evidence.SuspectThreshold = 2
		return nil
	case "":
		return nil
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
}
