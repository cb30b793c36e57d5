// Package config 提供 secchord 的统一配置
//
// 配置分为以下部分：
//   - Routing: 安全路由（后继列表长度、法定数、重试与回退预算）
//   - RPC: 路由 RPC 传输与限速
//   - Storage: 持久化存储目录
//   - Evidence: 不当行为证据与可疑节点跟踪
//   - Metrics: Prometheus 指标
package config

import "errors"

// Config 统一配置
type Config struct {
	// Routing 安全路由配置
	Routing RoutingConfig `json:"routing"`

	// RPC 路由 RPC 配置
	RPC RPCConfig `json:"rpc"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Evidence 证据配置
	Evidence EvidenceConfig `json:"evidence"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Routing:  DefaultRoutingConfig(),
		RPC:      DefaultRPCConfig(),
		Storage:  DefaultStorageConfig(),
		Evidence: DefaultEvidenceConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if err := c.RPC.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Evidence.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}
