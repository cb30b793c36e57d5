package secchord

import (
	"fmt"
	"time"
)

// Config 安全路由配置
type Config struct {
	// SuccListSize 每跳查询的候选数量，同时是节点后继列表的长度
	SuccListSize int

	// Quorum 接受一条路由信息所需的最少独立一致应答数
	// 默认取 SuccListSize 的多数：⌊s/2⌋+1
	Quorum int

	// MaxHopRetries 单跳未达法定数时扩展候选重试的次数
	MaxHopRetries int

	// MaxHops 一次查找最多接受的跳数
	MaxHops int

	// MaxBacktracks 发现矛盾后回退（PopBack）的最大次数
	MaxBacktracks int

	// RPCTimeout 单次路由 RPC 超时
	RPCTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		SuccListSize:  4,
		Quorum:        3,
		MaxHopRetries: 3,
		MaxHops:       64,
		MaxBacktracks: 2,
		RPCTimeout:    5 * time.Second,
	}
}

// MajorityQuorum 返回后继列表长度为 s 时的多数法定数
func MajorityQuorum(s int) int {
	return s/2 + 1
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.SuccListSize <= 0 {
		return fmt.Errorf("%w: succ list size must be positive", ErrInvalidConfig)
	}
	if c.Quorum <= 0 {
		return fmt.Errorf("%w: quorum must be positive", ErrInvalidConfig)
	}
	if c.Quorum > c.SuccListSize {
		return fmt.Errorf("%w: quorum %d exceeds succ list size %d", ErrInvalidConfig, c.Quorum, c.SuccListSize)
	}
	if c.MaxHopRetries < 0 {
		return fmt.Errorf("%w: max hop retries must not be negative", ErrInvalidConfig)
	}
	if c.MaxHops <= 0 {
		return fmt.Errorf("%w: max hops must be positive", ErrInvalidConfig)
	}
	if c.MaxBacktracks < 0 {
		return fmt.Errorf("%w: max backtracks must not be negative", ErrInvalidConfig)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: rpc timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// ConfigOption 配置选项函数
type ConfigOption func(*Config)

// Apply 应用选项并返回配置本身
func (c *Config) Apply(opts ...ConfigOption) *Config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithSuccListSize 设置后继列表长度
func WithSuccListSize(size int) ConfigOption {
	return func(c *Config) {
		c.SuccListSize = size
	}
}

// WithQuorum 设置法定数
func WithQuorum(q int) ConfigOption {
	return func(c *Config) {
		c.Quorum = q
	}
}

// WithMaxHopRetries 设置单跳重试次数
func WithMaxHopRetries(n int) ConfigOption {
	return func(c *Config) {
		c.MaxHopRetries = n
	}
}

// WithMaxHops 设置最大跳数
func WithMaxHops(n int) ConfigOption {
	return func(c *Config) {
		c.MaxHops = n
	}
}

// WithMaxBacktracks 设置最大回退次数
func WithMaxBacktracks(n int) ConfigOption {
	return func(c *Config) {
		c.MaxBacktracks = n
	}
}

// WithRPCTimeout 设置 RPC 超时
func WithRPCTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RPCTimeout = d
	}
}
