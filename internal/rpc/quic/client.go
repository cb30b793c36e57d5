package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

// ============================================================================
//                              Client
// ============================================================================

// Client QUIC 路由客户端
//
// 实现 interfaces.Dispatcher。按目标地址缓存连接，每次调用打开一条新流。
type Client struct {
	tlsConf *tls.Config
	opts    Options

	mu     sync.Mutex
	conns  map[string]quic.Connection
	closed bool
}

var _ interfaces.Dispatcher = (*Client)(nil)

// NewClient 创建客户端
func NewClient(opts ...Option) *Client {
	return &Client{
		tlsConf: clientTLSConfig(),
		opts:    buildOptions(opts),
		conns:   make(map[string]quic.Connection),
	}
}

// connect 获取或建立到 addr 的连接
func (c *Client) connect(ctx context.Context, addr string) (quic.Connection, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if conn, ok := c.conns[addr]; ok {
		if conn.Context().Err() == nil {
			c.mu.Unlock()
			return conn, nil
		}
		delete(c.conns, addr)
	}
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dctx, addr, c.tlsConf, c.opts.quicConfig())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.CloseWithError(0, "client closed")
		return nil, ErrClientClosed
	}
	if existing, ok := c.conns[addr]; ok && existing.Context().Err() == nil {
		_ = conn.CloseWithError(0, "duplicate")
		return existing, nil
	}
	c.conns[addr] = conn
	logger.Debug("已建立连接", "addr", addr)
	return conn, nil
}

// drop 移除失效连接
func (c *Client) drop(addr string, conn quic.Connection) {
	c.mu.Lock()
	if cur, ok := c.conns[addr]; ok && cur == conn {
		delete(c.conns, addr)
	}
	c.mu.Unlock()
}

// Invoke 同步调用
func (c *Client) Invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
	reply, err := c.invoke(ctx, dst, req)
	if err != nil {
		return nil, rpc.NewError(req.Op, dst, err)
	}
	return reply, nil
}

func (c *Client) invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, rpc.Normalize(err)
	}

	conn, err := c.connect(ctx, dst.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rpc.Normalize(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", rpc.ErrUnreachable, err)
	}

	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rpc.Normalize(ctx.Err())
		}
		c.drop(dst.Addr, conn)
		return nil, fmt.Errorf("%w: %w", rpc.ErrUnreachable, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = str.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		str.CancelRead(quic.StreamErrorCode(0))
		str.CancelWrite(quic.StreamErrorCode(0))
	})
	defer stop()

	if err := writeFrame(str, req, c.opts.MaxFrameSize); err != nil {
		if ctx.Err() != nil {
			return nil, rpc.Normalize(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", rpc.ErrUnreachable, err)
	}
	// 关闭写方向，服务端据此得知请求结束
	_ = str.Close()

	var resp response
	if err := readFrame(str, &resp, c.opts.MaxFrameSize); err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, rpc.Normalize(ctx.Err())
		case errors.Is(err, ErrFrameTooLarge):
			return nil, fmt.Errorf("%w: %w", rpc.ErrMalformedReply, err)
		default:
			return nil, fmt.Errorf("%w: %w", rpc.ErrUnreachable, err)
		}
	}

	switch {
	case resp.Code == codeUnsupported:
		return nil, fmt.Errorf("%w: %s", rpc.ErrUnsupportedOp, resp.Error)
	case resp.Error != "":
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	case resp.Reply == nil:
		return &types.RouteReply{}, nil
	}
	return resp.Reply, nil
}

// InvokeAsync 异步调用
func (c *Client) InvokeAsync(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest,
	done func(*types.RouteReply, error)) interfaces.RPCHandle {
	return rpc.NewCall(ctx, dst, req, c.Invoke, done).Start()
}

// Conns 返回缓存的连接数
func (c *Client) Conns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close 关闭所有连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	for addr, conn := range c.conns {
		err = multierr.Append(err, conn.CloseWithError(0, "client closed"))
		delete(c.conns, addr)
	}
	return err
}
