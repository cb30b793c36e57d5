package secchord

import (
	"context"
	"sync"

	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

// Factory 路由迭代器工厂
//
// 共享形式（ProduceIterator*）由工厂跟踪，Close 时统一关闭；
// 独占形式（ProduceIteratorPtr*）由调用方负责 Close。构造过程不做任何网络 I/O。
type Factory struct {
	cfg        *Config
	local      interfaces.LocalNode
	dispatcher interfaces.Dispatcher
	recorder   interfaces.EvidenceRecorder
	metrics    *Metrics

	mu     sync.Mutex
	live   map[*Iterator]struct{}
	closed bool
}

var _ interfaces.RouteFactory = (*Factory)(nil)

// FactoryOption 工厂选项
type FactoryOption func(*Factory)

// WithEvidenceRecorder 设置证据记录器
func WithEvidenceRecorder(r interfaces.EvidenceRecorder) FactoryOption {
	return func(f *Factory) {
		f.recorder = r
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) FactoryOption {
	return func(f *Factory) {
		f.metrics = m
	}
}

// NewFactory 创建工厂
func NewFactory(cfg *Config, local interfaces.LocalNode, d interfaces.Dispatcher, opts ...FactoryOption) (*Factory, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if local == nil {
		return nil, ErrNilLocalNode
	}
	if d == nil {
		return nil, ErrNilDispatcher
	}

	f := &Factory{
		cfg:        cfg,
		local:      local,
		dispatcher: d,
		live:       make(map[*Iterator]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Config 返回工厂配置
func (f *Factory) Config() *Config {
	return f.cfg
}

// Local 返回发起节点
func (f *Factory) Local() interfaces.LocalNode {
	return f.local
}

func (f *Factory) produce(key types.RingID, up *types.UpcallSpec) *Iterator {
	if up != nil {
		cp := *up
		cp.Args = append([]byte(nil), up.Args...)
		up = &cp
	}
	return newIterator(f.cfg, key, f.local, f.dispatcher, f.recorder, f.metrics, up)
}

func (f *Factory) track(it *Iterator) *Iterator {
	it.onClose = f.untrack

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = it.Close()
		return it
	}
	f.live[it] = struct{}{}
	n := len(f.live)
	f.mu.Unlock()

	f.metrics.setLive(n)
	return it
}

func (f *Factory) untrack(it *Iterator) {
	f.mu.Lock()
	delete(f.live, it)
	n := len(f.live)
	f.mu.Unlock()
	f.metrics.setLive(n)
}

// ProduceIterator 创建共享迭代器
func (f *Factory) ProduceIterator(key types.RingID) interfaces.RouteIterator {
	return f.track(f.produce(key, nil))
}

// ProduceIteratorWithUpcall 创建携带 upcall 的共享迭代器
func (f *Factory) ProduceIteratorWithUpcall(key types.RingID, up types.UpcallSpec) interfaces.RouteIterator {
	return f.track(f.produce(key, &up))
}

// ProduceIteratorPtr 创建独占迭代器，调用方负责 Close
func (f *Factory) ProduceIteratorPtr(key types.RingID) *Iterator {
	return f.produce(key, nil)
}

// ProduceIteratorPtrWithUpcall 创建携带 upcall 的独占迭代器
func (f *Factory) ProduceIteratorPtrWithUpcall(key types.RingID, up types.UpcallSpec) *Iterator {
	return f.produce(key, &up)
}

// Lookup 查找 key 的归属节点
func (f *Factory) Lookup(ctx context.Context, key types.RingID) (*interfaces.HopResult, error) {
	it := f.ProduceIterator(key)
	defer it.Close()
	return it.Run(ctx, false)
}

// LookupWithUpcall 查找 key 的归属节点并向其投递 upcall
func (f *Factory) LookupWithUpcall(ctx context.Context, key types.RingID, up types.UpcallSpec) (*interfaces.HopResult, error) {
	it := f.ProduceIteratorWithUpcall(key, up)
	defer it.Close()
	return it.Run(ctx, true)
}

// Live 当前被跟踪的共享迭代器数量
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Close 关闭工厂及其所有共享迭代器
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	live := make([]*Iterator, 0, len(f.live))
	for it := range f.live {
		live = append(live, it)
	}
	f.mu.Unlock()

	for _, it := range live {
		_ = it.Close()
	}
	logger.Debug("迭代器工厂已关闭", "closed", len(live))
	return nil
}
