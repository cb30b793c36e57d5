package config

import (
	"fmt"
	"time"
)

// RoutingConfig 安全路由配置
type RoutingConfig struct {
	// SuccListSize 后继列表长度，也是每跳的查询宽度
	// 默认值: 4
	SuccListSize int `json:"succ_list_size"`

	// Quorum 接受路由信息所需的独立一致应答数
	// 为 0 时取后继列表长度的多数
	Quorum int `json:"quorum"`

	// MaxHopRetries 单跳扩展候选重试次数
	MaxHopRetries int `json:"max_hop_retries"`

	// MaxHops 单次查找最多接受的跳数
	MaxHops int `json:"max_hops"`

	// MaxBacktracks 矛盾回退的最大次数
	MaxBacktracks int `json:"max_backtracks"`

	// RPCTimeout 单次路由 RPC 超时
	RPCTimeout Duration `json:"rpc_timeout"`
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		SuccListSize:  4,
		Quorum:        0,
		MaxHopRetries: 3,
		MaxHops:       64,
		MaxBacktracks: 2,
		RPCTimeout:    Duration(5 * time.Second),
	}
}

// EffectiveQuorum 返回实际使用的法定数
func (c *RoutingConfig) EffectiveQuorum() int {
	if c.Quorum > 0 {
		return c.Quorum
	}
	return c.SuccListSize/2 + 1
}

// Validate 验证路由配置
func (c *RoutingConfig) Validate() error {
	if c.SuccListSize <= 0 {
		return fmt.Errorf("routing: succ_list_size must be positive")
	}
	if c.Quorum < 0 || c.Quorum > c.SuccListSize {
		return fmt.Errorf("routing: quorum must be within [0, %d]", c.SuccListSize)
	}
	if c.MaxHopRetries < 0 || c.MaxBacktracks < 0 {
		return fmt.Errorf("routing: retry budgets must not be negative")
	}
	if c.MaxHops <= 0 {
		return fmt.Errorf("routing: max_hops must be positive")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("routing: rpc_timeout must be positive")
	}
	return nil
}
