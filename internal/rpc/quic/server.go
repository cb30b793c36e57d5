package quic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("rpc/quic")

// ============================================================================
//                              Server
// ============================================================================

// Server QUIC 路由服务端
//
// 把每条入站流上的请求交给 Responder 处理。
type Server struct {
	ln        *quic.Listener
	responder interfaces.Responder
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[quic.Connection]struct{}

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Listen 在 addr 上监听并开始服务
func Listen(addr string, responder interfaces.Responder, opts ...Option) (*Server, error) {
	if responder == nil {
		return nil, errors.New("quic: nil responder")
	}
	o := buildOptions(opts)

	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, o.quicConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ln:        ln,
		responder: responder,
		opts:      o,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[quic.Connection]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("路由服务已监听", "addr", s.Addr())
	return s, nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept(s.ctx)
		if err != nil {
			if !s.closed.Load() {
				logger.Warn("接受连接失败", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = conn.CloseWithError(0, "server closed")
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn quic.Connection) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		str, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveStream(conn, str)
	}
}

func (s *Server) serveStream(conn quic.Connection, str quic.Stream) {
	defer s.wg.Done()
	defer str.Close()

	_ = str.SetDeadline(time.Now().Add(s.opts.HandleTimeout))

	var req types.RouteRequest
	if err := readFrame(str, &req, s.opts.MaxFrameSize); err != nil {
		logger.Debug("读取请求失败", "remote", conn.RemoteAddr(), "error", err)
		str.CancelRead(quic.StreamErrorCode(0))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.HandleTimeout)
	defer cancel()

	var resp response
	reply, err := s.responder.HandleRoute(ctx, &req)
	switch {
	case err == nil:
		resp.Reply = reply
	case errors.Is(err, rpc.ErrUnsupportedOp):
		resp.Error = err.Error()
		resp.Code = codeUnsupported
	default:
		resp.Error = err.Error()
		resp.Code = codeInternal
	}

	if err := writeFrame(str, &resp, s.opts.MaxFrameSize); err != nil {
		logger.Debug("写入应答失败", "remote", conn.RemoteAddr(), "op", req.Op, "error", err)
	}
}

// Close 停止监听并关闭所有连接
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	err := s.ln.Close()

	s.mu.Lock()
	for conn := range s.conns {
		err = multierr.Append(err, conn.CloseWithError(0, "server closed"))
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("路由服务已关闭", "addr", s.ln.Addr().String())
	return err
}
