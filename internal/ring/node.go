package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("ring")

// 预定义错误
var (
	// ErrEmptyRing 环上没有节点
	ErrEmptyRing = errors.New("ring: empty ring")

	// ErrDuplicateID 节点 ID 重复
	ErrDuplicateID = errors.New("ring: duplicate node ID")

	// ErrNodeNotFound 节点不存在
	ErrNodeNotFound = errors.New("ring: node not found")

	// ErrNoHandler 没有匹配的 upcall 处理程序
	ErrNoHandler = errors.New("ring: no upcall handler")

	// ErrHandlerExists 处理程序已注册
	ErrHandlerExists = errors.New("ring: upcall handler already registered")
)

// Node 一个节点的本地路由状态
//
// 同时实现 interfaces.LocalNode（作为查找发起方）与
// interfaces.Responder（作为诚实应答者）。
type Node struct {
	self    types.NodeDescriptor
	upcalls *UpcallRegistry

	mu         sync.RWMutex
	successors []types.NodeDescriptor
	fingers    []types.NodeDescriptor
}

var (
	_ interfaces.LocalNode = (*Node)(nil)
	_ interfaces.Responder = (*Node)(nil)
)

// NewNode 创建节点
func NewNode(self types.NodeDescriptor, successors, fingers []types.NodeDescriptor) *Node {
	return &Node{
		self:       self,
		upcalls:    NewUpcallRegistry(),
		successors: clone(successors),
		fingers:    clone(fingers),
	}
}

func clone(in []types.NodeDescriptor) []types.NodeDescriptor {
	return append([]types.NodeDescriptor(nil), in...)
}

// Self 本节点描述
func (n *Node) Self() types.NodeDescriptor {
	return n.self
}

// Successors 后继列表副本
func (n *Node) Successors() []types.NodeDescriptor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.successors)
}

// Fingers finger 表副本
func (n *Node) Fingers() []types.NodeDescriptor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.fingers)
}

// SetSuccessors 替换后继列表
func (n *Node) SetSuccessors(s []types.NodeDescriptor) {
	n.mu.Lock()
	n.successors = clone(s)
	n.mu.Unlock()
}

// SetFingers 替换 finger 表
func (n *Node) SetFingers(f []types.NodeDescriptor) {
	n.mu.Lock()
	n.fingers = clone(f)
	n.mu.Unlock()
}

// Upcalls 本节点的 upcall 注册表
func (n *Node) Upcalls() *UpcallRegistry {
	return n.upcalls
}

// HandleRoute 诚实应答路由 RPC
func (n *Node) HandleRoute(ctx context.Context, req *types.RouteRequest) (*types.RouteReply, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", rpc.ErrUnsupportedOp)
	}
	switch req.Op {
	case types.OpGetSuccessors:
		return &types.RouteReply{Nodes: n.Successors()}, nil
	case types.OpUpcall:
		payload, err := n.upcalls.Dispatch(ctx, n.self, req.Key, req.Upcall)
		if err != nil {
			logger.Debug("upcall 处理失败", "self", n.self.String(), "key", req.Key.ShortString(), "error", err)
			return nil, err
		}
		return &types.RouteReply{Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: %s", rpc.ErrUnsupportedOp, req.Op)
	}
}
