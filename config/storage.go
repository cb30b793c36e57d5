package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 证据账本使用 BadgerDB 持久化，通过 Key 前缀与其他数据隔离。
//
//	${DataDir}/
//	└── secchord.db/        # BadgerDB 数据库
type StorageConfig struct {
	// DataDir 数据目录路径
	DataDir string `json:"data_dir"`

	// InMemory 使用内存模式（测试、仿真）
	InMemory bool `json:"in_memory"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir: "./data",
	}
}

// Validate 验证存储配置
func (c *StorageConfig) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("storage: data_dir cannot be empty")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "secchord.db")
}

// EvidenceConfig 证据配置
type EvidenceConfig struct {
	// Enable 是否记录证据
	Enable bool `json:"enable"`

	// Persist 是否写入持久化账本
	Persist bool `json:"persist"`

	// SuspectThreshold 证据条数达到该值时节点被列为可疑
	SuspectThreshold int `json:"suspect_threshold"`

	// TrackerSize 内存中跟踪的节点数量上限
	TrackerSize int `json:"tracker_size"`
}

// DefaultEvidenceConfig 返回默认证据配置
func DefaultEvidenceConfig() EvidenceConfig {
	return EvidenceConfig{
		Enable:           true,
		Persist:          true,
		SuspectThreshold: 3,
		TrackerSize:      1024,
	}
}

// Validate 验证证据配置
func (c *EvidenceConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.SuspectThreshold <= 0 {
		return fmt.Errorf("evidence: suspect_threshold must be positive")
	}
	if c.TrackerSize <= 0 {
		return fmt.Errorf("evidence: tracker_size must be positive")
	}
	return nil
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enable 是否注册 Prometheus 指标
	Enable bool `json:"enable"`

	// ListenAddr 指标 HTTP 服务地址，为空时不对外暴露
	ListenAddr string `json:"listen_addr"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enable: true}
}

// Validate 验证指标配置
func (c *MetricsConfig) Validate() error {
	if !c.Enable && c.ListenAddr != "" {
		return fmt.Errorf("metrics: listen_addr set but metrics disabled")
	}
	return nil
}
