package config

import (
	"fmt"
	"time"
)

// 传输类型
const (
	TransportSim  = "sim"
	TransportQUIC = "quic"
)

// RPCConfig 路由 RPC 配置
type RPCConfig struct {
	// Transport 传输类型："sim" 或 "quic"
	Transport string `json:"transport"`

	// ListenAddr QUIC 监听地址
	ListenAddr string `json:"listen_addr"`

	// RateLimit 每个目标每秒允许的调用数，0 表示不限速
	RateLimit float64 `json:"rate_limit"`

	// RateBurst 突发容量
	RateBurst int `json:"rate_burst"`

	// MaxDestinations 限速器跟踪的目标上限
	MaxDestinations int `json:"max_destinations"`

	// DialTimeout QUIC 建连超时
	DialTimeout Duration `json:"dial_timeout"`

	// IdleTimeout QUIC 连接空闲超时
	IdleTimeout Duration `json:"idle_timeout"`

	// MaxFrameSize 单帧最大字节数
	MaxFrameSize int `json:"max_frame_size"`
}

// DefaultRPCConfig 返回默认 RPC 配置
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Transport:       TransportSim,
		ListenAddr:      "127.0.0.1:0",
		RateLimit:       200,
		RateBurst:       50,
		MaxDestinations: 4096,
		DialTimeout:     Duration(3 * time.Second),
		IdleTimeout:     Duration(30 * time.Second),
		MaxFrameSize:    1 << 20,
	}
}

// Validate 验证 RPC 配置
func (c *RPCConfig) Validate() error {
	switch c.Transport {
	case TransportSim, TransportQUIC:
	default:
		return fmt.Errorf("rpc: unknown transport %q", c.Transport)
	}
	if c.Transport == TransportQUIC && c.ListenAddr == "" {
		return fmt.Errorf("rpc: listen_addr required for quic transport")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rpc: rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rpc: rate_burst must be positive when rate limiting")
	}
	if c.DialTimeout <= 0 || c.IdleTimeout <= 0 {
		return fmt.Errorf("rpc: timeouts must be positive")
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("rpc: max_frame_size must be positive")
	}
	return nil
}
