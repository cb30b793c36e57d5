package quic

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dep2p/go-secchord/config"
)

// Options 传输选项
type Options struct {
	// MaxFrameSize 单帧最大字节数
	MaxFrameSize int

	// DialTimeout 建连超时
	DialTimeout time.Duration

	// IdleTimeout 连接空闲超时
	IdleTimeout time.Duration

	// HandleTimeout 服务端处理单个请求的超时
	HandleTimeout time.Duration
}

// Option 传输选项函数
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxFrameSize:  1 << 20,
		DialTimeout:   3 * time.Second,
		IdleTimeout:   30 * time.Second,
		HandleTimeout: 10 * time.Second,
	}
}

func buildOptions(opts []Option) Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:     o.IdleTimeout,
		KeepAlivePeriod:    o.IdleTimeout / 2,
		MaxIncomingStreams: 1024,
	}
}

// WithMaxFrameSize 设置帧大小上限
func WithMaxFrameSize(n int) Option {
	return func(o *Options) {
		o.MaxFrameSize = n
	}
}

// WithDialTimeout 设置建连超时
func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DialTimeout = d
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

// WithHandleTimeout 设置服务端处理超时
func WithHandleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.HandleTimeout = d
	}
}

// OptionsFromUnified 从统一配置生成传输选项
func OptionsFromUnified(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithMaxFrameSize(cfg.RPC.MaxFrameSize),
		WithDialTimeout(cfg.RPC.DialTimeout.Duration()),
		WithIdleTimeout(cfg.RPC.IdleTimeout.Duration()),
	}
}
