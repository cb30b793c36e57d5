package secchord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/internal/evidence"
	routingsc "github.com/dep2p/go-secchord/internal/routing/secchord"
	"github.com/dep2p/go-secchord/internal/rpc/quic"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("secchord")

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期常量
// ════════════════════════════════════════════════════════════════════════════

const (
	// initializeTimeout 初始化超时（Fx App Start）
	initializeTimeout = 30 * time.Second

	// stopTimeout 停止超时（Fx App Stop）
	stopTimeout = 10 * time.Second

	// defaultBatchConcurrency 批量查找默认并发度
	defaultBatchConcurrency = 8
)

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node 安全 Chord 路由节点
//
// Node 把本地路由状态、分发器、证据记录器与迭代器工厂组装在一起，
// 对外提供查找接口。
//
// 使用示例:
//
//	node, err := secchord.New(
//	    secchord.WithLocalNode(local),
//	    secchord.WithDispatcher(net.Dispatcher()),
//	    secchord.WithPreset("test"),
//	)
//	if err := node.Start(ctx); err != nil { ... }
//	defer node.Close()
//	res, err := node.Lookup(ctx, key)
type Node struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置和状态
	// ────────────────────────────────────────────────────────────────────────

	opts *options
	app  *fx.App

	// ────────────────────────────────────────────────────────────────────────
	// 组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	factory    *routingsc.Factory
	dispatcher interfaces.Dispatcher
	recorder   *evidence.Recorder
	transport  *quic.Transport
	gatherer   prometheus.Gatherer

	mu          sync.Mutex
	started     bool
	closed      bool
	metricsAddr string
}

// New 创建节点（未启动）
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{opts: o}

	var err error
	node.app, err = buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return node, nil
}

// Start 快捷启动函数，等价于 New() + Start()
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期管理
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 启动所有内部组件：存储引擎、QUIC 监听、指标服务与迭代器工厂。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if err := n.app.Start(initCtx); err != nil {
		logger.Error("节点初始化失败", "error", err)
		return fmt.Errorf("initialize failed: %w", err)
	}
	n.started = true

	logger.Info("节点已启动",
		"self", n.opts.local.Self().String(),
		"transport", n.transportKind(),
		"addr", n.addrLocked())
	return nil
}

// Close 关闭节点
//
// 关闭所有共享迭代器并释放传输、存储等资源。可重复调用。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if !n.started {
		return nil
	}
	n.started = false

	logger.Info("正在关闭节点")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := n.app.Stop(stopCtx); err != nil {
		logger.Warn("节点关闭时出错", "error", err)
		return fmt.Errorf("stop: %w", err)
	}
	logger.Info("节点已关闭")
	return nil
}

// ready 检查节点可用于查找
func (n *Node) ready() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              查找
// ════════════════════════════════════════════════════════════════════════════

// Lookup 查找 key 的归属节点
func (n *Node) Lookup(ctx context.Context, key types.RingID) (*interfaces.HopResult, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.factory.Lookup(ctx, key)
}

// LookupWithUpcall 查找 key 的归属节点，并把 upcall 投递给它
func (n *Node) LookupWithUpcall(ctx context.Context, key types.RingID, up types.UpcallSpec) (*interfaces.HopResult, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.factory.LookupWithUpcall(ctx, key, up)
}

// LookupBatch 并发查找多个 key
//
// 结果与 keys 一一对应；单个查找失败记录在对应结果的 Err 中，
// 只有 ctx 结束时才返回错误。concurrency <= 0 时使用默认并发度。
func (n *Node) LookupBatch(ctx context.Context, keys []types.RingID, concurrency int) ([]*interfaces.HopResult, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	results := make([]*interfaces.HopResult, len(keys))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := n.factory.Lookup(ctx, key)
			if res == nil {
				res = &interfaces.HopResult{Status: interfaces.HopFailed, Err: err}
			}
			results[i] = res
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Iterator 创建独占迭代器，调用方负责 Close
func (n *Node) Iterator(key types.RingID) (*routingsc.Iterator, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.factory.ProduceIteratorPtr(key), nil
}

// RouteFactory 返回迭代器工厂
func (n *Node) RouteFactory() interfaces.RouteFactory {
	return n.factory
}

// ════════════════════════════════════════════════════════════════════════════
//                              状态查询
// ════════════════════════════════════════════════════════════════════════════

// Self 本节点描述
func (n *Node) Self() types.NodeDescriptor {
	return n.opts.local.Self()
}

// Config 返回统一配置
func (n *Node) Config() *config.Config {
	return n.opts.config
}

// Suspects 返回被列为可疑的节点
func (n *Node) Suspects() []evidence.SuspectInfo {
	return n.recorder.Suspects()
}

// Evidence 返回针对某个节点记录的证据
func (n *Node) Evidence(id types.RingID) ([]types.Evidence, error) {
	return n.recorder.List(id)
}

// Addr 返回 QUIC 监听地址，未监听时为空
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addrLocked()
}

func (n *Node) addrLocked() string {
	if n.transport == nil {
		return ""
	}
	return n.transport.Addr()
}

// MetricsAddr 返回 /metrics 服务地址，未启用时为空
func (n *Node) MetricsAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metricsAddr
}

// Gatherer 返回指标采集器，指标关闭时为 nil
func (n *Node) Gatherer() prometheus.Gatherer {
	return n.gatherer
}

func (n *Node) transportKind() string {
	if n.transport == nil {
		return "external"
	}
	return config.TransportQUIC
}

// Dispatcher 返回节点使用的分发器（含限速装饰）
func (n *Node) Dispatcher() interfaces.Dispatcher {
	return n.dispatcher
}
