// Package sim 提供进程内的仿真路由网络
//
// Network 显式持有已注册节点的表，不使用任何全局状态。每个节点有
// 自己的 Behavior：诚实、崩溃、静默（调用超时）或恶意（伪造应答）。
// 网络延迟由 LatencyFunc 给出并通过 clock.Clock 等待，测试中可替换
// 为 clock.NewMock() 精确控制时间。
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("rpc/sim")

// ErrAlreadyRegistered 节点已注册
var ErrAlreadyRegistered = errors.New("sim: node already registered")

// ErrNotRegistered 节点未注册
var ErrNotRegistered = errors.New("sim: node not registered")

// Behavior 仿真节点的行为
type Behavior int

const (
	// Honest 如实应答
	Honest Behavior = iota
	// Crashed 不可达
	Crashed
	// Silent 收到请求但从不应答，调用方只能等到超时
	Silent
	// Malicious 应答经 ForgeFunc 改写
	Malicious
)

// String 返回行为名称
func (b Behavior) String() string {
	switch b {
	case Honest:
		return "honest"
	case Crashed:
		return "crashed"
	case Silent:
		return "silent"
	case Malicious:
		return "malicious"
	default:
		return fmt.Sprintf("behavior(%d)", int(b))
	}
}

// LatencyFunc 返回一次调用的单程延迟
type LatencyFunc func(dst types.NodeDescriptor) time.Duration

// FixedLatency 固定延迟
func FixedLatency(d time.Duration) LatencyFunc {
	return func(types.NodeDescriptor) time.Duration { return d }
}

// JitterLatency 在 [base, base+jitter) 内均匀分布的延迟
func JitterLatency(base, jitter time.Duration, seed int64) LatencyFunc {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func(types.NodeDescriptor) time.Duration {
		if jitter <= 0 {
			return base
		}
		mu.Lock()
		defer mu.Unlock()
		return base + time.Duration(rng.Int63n(int64(jitter)))
	}
}

type simNode struct {
	desc      types.NodeDescriptor
	responder interfaces.Responder
	behavior  Behavior
	forge     ForgeFunc
}

// Network 仿真网络
type Network struct {
	clock   clock.Clock
	latency LatencyFunc

	mu    sync.RWMutex
	nodes map[types.RingID]*simNode

	calls  atomic.Uint64
	failed atomic.Uint64
}

// Option 网络选项
type Option func(*Network)

// WithClock 设置时钟
func WithClock(c clock.Clock) Option {
	return func(n *Network) {
		n.clock = c
	}
}

// WithLatency 设置延迟函数
func WithLatency(f LatencyFunc) Option {
	return func(n *Network) {
		n.latency = f
	}
}

// NewNetwork 创建仿真网络
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		clock:   clock.New(),
		latency: FixedLatency(0),
		nodes:   make(map[types.RingID]*simNode),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register 注册节点
func (n *Network) Register(desc types.NodeDescriptor, responder interfaces.Responder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[desc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc)
	}
	n.nodes[desc.ID] = &simNode{desc: desc, responder: responder}
	return nil
}

// Unregister 注销节点
func (n *Network) Unregister(id types.RingID) {
	n.mu.Lock()
	delete(n.nodes, id)
	n.mu.Unlock()
}

func (n *Network) update(id types.RingID, fn func(*simNode)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id.ShortString())
	}
	fn(node)
	return nil
}

// SetBehavior 设置节点行为
func (n *Network) SetBehavior(id types.RingID, b Behavior) error {
	return n.update(id, func(node *simNode) {
		node.behavior = b
	})
}

// SetForge 将节点设为恶意并指定伪造方式
func (n *Network) SetForge(id types.RingID, f ForgeFunc) error {
	return n.update(id, func(node *simNode) {
		node.behavior = Malicious
		node.forge = f
	})
}

// Crash 使节点崩溃
func (n *Network) Crash(id types.RingID) error {
	logger.Debug("节点崩溃", "id", id.ShortString())
	return n.SetBehavior(id, Crashed)
}

// Alive 恢复节点为诚实状态
func (n *Network) Alive(id types.RingID) error {
	return n.update(id, func(node *simNode) {
		node.behavior = Honest
		node.forge = nil
	})
}

// Behavior 返回节点当前行为
func (n *Network) Behavior(id types.RingID) (Behavior, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok {
		return Honest, fmt.Errorf("%w: %s", ErrNotRegistered, id.ShortString())
	}
	return node.behavior, nil
}

// Len 注册节点数量
func (n *Network) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// Calls 已发出的调用数
func (n *Network) Calls() uint64 {
	return n.calls.Load()
}

// Failed 失败的调用数
func (n *Network) Failed() uint64 {
	return n.failed.Load()
}

// Invoke 同步调用
func (n *Network) Invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
	n.calls.Add(1)
	reply, err := n.invoke(ctx, dst, req)
	if err != nil {
		n.failed.Add(1)
		return nil, rpc.NewError(req.Op, dst, rpc.Normalize(err))
	}
	return reply, nil
}

func (n *Network) invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
	n.mu.RLock()
	node, ok := n.nodes[dst.ID]
	var snap simNode
	if ok {
		snap = *node
	}
	n.mu.RUnlock()

	if !ok || snap.behavior == Crashed {
		return nil, rpc.ErrUnreachable
	}

	if d := n.latency(dst); d > 0 {
		select {
		case <-n.clock.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch snap.behavior {
	case Silent:
		<-ctx.Done()
		return nil, ctx.Err()
	case Malicious:
		honest, err := snap.responder.HandleRoute(ctx, req)
		if snap.forge == nil || (err != nil && req.Op != types.OpGetSuccessors) {
			return honest, err
		}
		if err != nil {
			honest = nil
		}
		return snap.forge(snap.desc, req, honest)
	default:
		return snap.responder.HandleRoute(ctx, req)
	}
}

// Dispatcher 返回绑定到本网络的 Dispatcher
func (n *Network) Dispatcher() *rpc.FuncDispatcher {
	return rpc.AsyncFromSync(n.Invoke)
}
