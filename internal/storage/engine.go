// Package storage 提供证据账本使用的持久化存储
//
// Engine 是最小的键值引擎接口，Badger 是基于 BadgerDB 的实现，
// 支持磁盘与内存两种模式。kv 子包在引擎之上提供前缀隔离。
//
// # 键空间
//
//	e/l/<suspect>/<ts>/<seq>  - 证据条目（JSON）
//	e/c/<suspect>             - 证据计数（uint64 大端）
package storage

import (
	"errors"
	"time"
)

// 预定义错误
var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("storage: key not found")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("storage: engine closed")

	// ErrEmptyKey 空键
	ErrEmptyKey = errors.New("storage: empty key")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("storage: invalid config")

	// ErrCorrupted 数据损坏
	ErrCorrupted = errors.New("storage: data corrupted")

	// ErrStopScan 在 Scan 回调中返回以提前结束遍历
	ErrStopScan = errors.New("storage: stop scan")
)

// IsNotFound 检查是否为键不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Engine 键值存储引擎
//
// 实现必须并发安全。
type Engine interface {
	// Get 读取值，键不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入键值对
	Put(key, value []byte) error

	// Delete 删除键
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Scan 按键序遍历具有指定前缀的键值对
	//
	// 传给 fn 的切片仅在回调期间有效。fn 返回 ErrStopScan 时
	// 遍历结束且 Scan 返回 nil。
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// Close 关闭引擎
	Close() error
}

// Config 引擎配置
type Config struct {
	// Path 数据库目录，内存模式下忽略
	Path string

	// InMemory 内存模式
	InMemory bool

	// SyncWrites 每次写入后同步到磁盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔，0 表示不回收
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64
}

// DefaultConfig 返回磁盘模式的默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:           path,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig 返回内存模式配置
func InMemoryConfig() *Config {
	return &Config{InMemory: true}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if !c.InMemory && c.Path == "" {
		return errors.Join(ErrInvalidConfig, errors.New("path required"))
	}
	if c.GCInterval > 0 && (c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1) {
		return errors.Join(ErrInvalidConfig, errors.New("gc discard ratio must be in (0, 1)"))
	}
	return nil
}
