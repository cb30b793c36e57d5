package quic

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/pkg/interfaces"
)

// ============================================================================
//                              Transport
// ============================================================================

// Transport 客户端与（可选的）服务端组合
//
// 客户端在构造时即可使用；服务端只在提供了 Responder 时于 Start 中监听。
type Transport struct {
	client     *Client
	responder  interfaces.Responder
	listenAddr string
	opts       []Option

	mu     sync.Mutex
	server *Server
}

// NewTransport 创建传输
func NewTransport(listenAddr string, responder interfaces.Responder, opts ...Option) *Transport {
	return &Transport{
		client:     NewClient(opts...),
		responder:  responder,
		listenAddr: listenAddr,
		opts:       opts,
	}
}

// Client 返回分发客户端
func (t *Transport) Client() *Client {
	return t.client
}

// Start 在配置的地址上开始服务
func (t *Transport) Start() error {
	if t.responder == nil || t.listenAddr == "" {
		logger.Debug("未提供应答者，仅作为客户端运行")
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server != nil {
		return nil
	}
	s, err := Listen(t.listenAddr, t.responder, t.opts...)
	if err != nil {
		return err
	}
	t.server = s
	return nil
}

// Addr 返回服务端监听地址，未监听时为空
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server == nil {
		return ""
	}
	return t.server.Addr()
}

// Close 关闭服务端与客户端
func (t *Transport) Close() error {
	t.mu.Lock()
	s := t.server
	t.server = nil
	t.mu.Unlock()

	var err error
	if s != nil {
		err = multierr.Append(err, s.Close())
	}
	return multierr.Append(err, t.client.Close())
}

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params QUIC 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config       `optional:"true"`
	Responder  interfaces.Responder `optional:"true"`
}

// Result QUIC 模块导出结果
type Result struct {
	fx.Out

	Transport *Transport
}

// Module QUIC 传输 Fx 模块
//
// 提供:
//   - Transport: 客户端（Dispatcher）与服务端
//
// 生命周期:
//   - OnStart: 有 Responder 时开始监听
//   - OnStop: 关闭服务端与所有连接
var Module = fx.Module("rpc_quic",
	fx.Provide(ProvideTransport),
	fx.Invoke(registerLifecycle),
)

// ProvideTransport 从统一配置创建传输
func ProvideTransport(p Params) Result {
	addr := ""
	if p.UnifiedCfg != nil {
		addr = p.UnifiedCfg.RPC.ListenAddr
	}
	return Result{Transport: NewTransport(addr, p.Responder, OptionsFromUnified(p.UnifiedCfg)...)}
}

func registerLifecycle(lc fx.Lifecycle, t *Transport) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return t.Start()
		},
		OnStop: func(_ context.Context) error {
			return t.Close()
		},
	})
}
