// Package interfaces 定义 secchord 公共接口
//
// 本文件定义路由 RPC 分发协作者接口，对应 internal/rpc/ 实现。
package interfaces

import (
	"context"

	"github.com/dep2p/go-secchord/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
// Dispatcher 接口
// ════════════════════════════════════════════════════════════════════════════

// Dispatcher 路由 RPC 分发器
//
// 负责把请求送达目标节点并返回解码后的应答。传输、序列化、网络延迟
// 都属于分发器的职责，路由核心只依赖本接口。
//
// 实现位置：
//   - internal/rpc/sim  进程内仿真网络
//   - internal/rpc/quic QUIC 传输
type Dispatcher interface {
	// Invoke 同步调用，阻塞直到收到应答、出错或 ctx 结束
	//
	// 错误取值见 internal/rpc：ErrTimeout / ErrUnreachable / ErrMalformedReply。
	Invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error)

	// InvokeAsync 异步调用
	//
	// done 至多被调用一次，且不会在 InvokeAsync 返回前同步调用。
	// 调用 RPCHandle.Cancel 后 done 可能不再被调用（fire-and-discard）。
	InvokeAsync(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest,
		done func(*types.RouteReply, error)) RPCHandle
}

// RPCHandle 异步调用句柄
type RPCHandle interface {
	// ID 调用标识（日志关联用）
	ID() string

	// Cancel 取消调用；已完成的调用上无副作用
	Cancel()

	// Done 调用结束（完成或取消）后关闭
	Done() <-chan struct{}
}

// Responder 路由 RPC 的服务端处理者
//
// 仿真节点与 QUIC 服务端都通过它回答 OpGetSuccessors / OpUpcall。
type Responder interface {
	HandleRoute(ctx context.Context, req *types.RouteRequest) (*types.RouteReply, error)
}
