// Package rpc 实现路由 RPC 分发协作者的通用部分
//
// Call 把目标、请求和完成回调捕获在一个闭包里，完成时恰好释放一次；
// AsyncFromSync / SyncFromAsync 在同步与异步调用之间转换；
// RateLimited 为任意 Dispatcher 加上按目标的令牌桶限速。
package rpc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("rpc")

// InvokeFunc 同步调用函数
type InvokeFunc func(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error)

// DoneFunc 异步完成回调
type DoneFunc func(*types.RouteReply, error)

// ============================================================================
//                              Call
// ============================================================================

// Call 一次异步路由调用
//
// 实现 interfaces.RPCHandle。Cancel 之后回调不会再被调用。
type Call struct {
	id  string
	ctx context.Context

	mu       sync.Mutex
	cancel   context.CancelFunc
	dst      types.NodeDescriptor
	req      *types.RouteRequest
	fn       InvokeFunc
	done     DoneFunc
	canceled bool

	finished chan struct{}
}

var _ interfaces.RPCHandle = (*Call)(nil)

// NewCall 创建调用，Start 之前不会发出任何请求
func NewCall(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest, fn InvokeFunc, done DoneFunc) *Call {
	cctx, cancel := context.WithCancel(ctx)
	return &Call{
		id:       uuid.NewString(),
		ctx:      cctx,
		cancel:   cancel,
		dst:      dst,
		req:      req,
		fn:       fn,
		done:     done,
		finished: make(chan struct{}),
	}
}

// Start 在独立 goroutine 中执行调用
func (c *Call) Start() *Call {
	c.mu.Lock()
	fn, dst, req := c.fn, c.dst, c.req
	c.mu.Unlock()

	go func() {
		reply, err := fn(c.ctx, dst, req)
		c.complete(reply, Normalize(err))
	}()
	return c
}

// complete 释放捕获的状态并投递回调，只生效一次
func (c *Call) complete(reply *types.RouteReply, err error) {
	c.mu.Lock()
	done := c.done
	canceled := c.canceled
	c.done, c.fn, c.req = nil, nil, nil
	c.mu.Unlock()

	if done == nil {
		return
	}
	c.cancel()
	if !canceled {
		done(reply, err)
	}
	close(c.finished)
}

// ID 调用标识
func (c *Call) ID() string {
	return c.id
}

// Dst 调用目标
func (c *Call) Dst() types.NodeDescriptor {
	return c.dst
}

// Cancel 取消调用
func (c *Call) Cancel() {
	c.mu.Lock()
	if c.done != nil && !c.canceled {
		c.canceled = true
		logger.Debug("取消路由调用", "id", c.id, "dst", c.dst.String())
	}
	c.mu.Unlock()
	c.cancel()
}

// Done 调用结束后关闭
func (c *Call) Done() <-chan struct{} {
	return c.finished
}

// ============================================================================
//                              同步 / 异步适配
// ============================================================================

// FuncDispatcher 由同步函数构造的 Dispatcher
type FuncDispatcher struct {
	fn InvokeFunc
}

var _ interfaces.Dispatcher = (*FuncDispatcher)(nil)

// AsyncFromSync 用同步调用函数构造完整的 Dispatcher
func AsyncFromSync(fn InvokeFunc) *FuncDispatcher {
	return &FuncDispatcher{fn: fn}
}

// Invoke 同步调用
func (d *FuncDispatcher) Invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
	reply, err := d.fn(ctx, dst, req)
	return reply, Normalize(err)
}

// InvokeAsync 异步调用
func (d *FuncDispatcher) InvokeAsync(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest,
	done func(*types.RouteReply, error)) interfaces.RPCHandle {
	return NewCall(ctx, dst, req, d.fn, done).Start()
}

// SyncFromAsync 把异步分发器包装为同步调用函数
//
// ctx 结束时取消底层调用并返回 ErrCanceled / ErrTimeout。
func SyncFromAsync(d interfaces.Dispatcher) InvokeFunc {
	return func(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
		type result struct {
			reply *types.RouteReply
			err   error
		}
		ch := make(chan result, 1)
		h := d.InvokeAsync(ctx, dst, req, func(reply *types.RouteReply, err error) {
			ch <- result{reply, err}
		})
		select {
		case r := <-ch:
			return r.reply, r.err
		case <-ctx.Done():
			h.Cancel()
			return nil, Normalize(ctx.Err())
		}
	}
}
