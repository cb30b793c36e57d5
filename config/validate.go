package config

import (
	"errors"
	"fmt"
)

// ValidateAndFix 验证配置并修复可以自动修复的问题
//
// 可修复的问题：
//   - 法定数超过后继列表长度 -> 取多数
//   - 非正超时 -> 使用默认值
//   - 启用限速但突发容量为 0 -> 使用默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	if c.Routing.SuccListSize <= 0 {
		c.Routing.SuccListSize = DefaultRoutingConfig().SuccListSize
	}
	if c.Routing.Quorum > c.Routing.SuccListSize {
		c.Routing.Quorum = 0
	}
	if c.Routing.RPCTimeout <= 0 {
		c.Routing.RPCTimeout = DefaultRoutingConfig().RPCTimeout
	}
	if c.RPC.RateLimit > 0 && c.RPC.RateBurst <= 0 {
		c.RPC.RateBurst = DefaultRPCConfig().RateBurst
	}
	if c.RPC.DialTimeout <= 0 {
		c.RPC.DialTimeout = DefaultRPCConfig().DialTimeout
	}
	if c.RPC.IdleTimeout <= 0 {
		c.RPC.IdleTimeout = DefaultRPCConfig().IdleTimeout
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config still invalid after fix: %w", err)
	}
	return c, nil
}

// MustValidate 验证配置，无效时 panic
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(errors.Join(errors.New("invalid config"), err))
	}
}
