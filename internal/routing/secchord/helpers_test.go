package secchord

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

func nd(id uint64) types.NodeDescriptor {
	return types.NodeDescriptor{ID: types.RingIDFromUint64(id), Addr: fmt.Sprintf("n%d", id)}
}

func nds(ids ...uint64) []types.NodeDescriptor {
	out := make([]types.NodeDescriptor, len(ids))
	for i, id := range ids {
		out[i] = nd(id)
	}
	return out
}

func key(id uint64) types.RingID {
	return types.RingIDFromUint64(id)
}

func small(id types.RingID) uint64 {
	return binary.BigEndian.Uint64(id[types.RingIDLen-8:])
}

func pathIDs(path []types.NodeDescriptor) []uint64 {
	out := make([]uint64, len(path))
	for i, d := range path {
		out[i] = small(d.ID)
	}
	return out
}

func testConfig(opts ...ConfigOption) *Config {
	cfg := &Config{
		SuccListSize:  2,
		Quorum:        2,
		MaxHopRetries: 3,
		MaxHops:       64,
		MaxBacktracks: 2,
		RPCTimeout:    time.Second,
	}
	return cfg.Apply(opts...)
}

// staticLocal 固定的本地路由状态
type staticLocal struct {
	self    types.NodeDescriptor
	succ    []types.NodeDescriptor
	fingers []types.NodeDescriptor
}

func (l *staticLocal) Self() types.NodeDescriptor         { return l.self }
func (l *staticLocal) Successors() []types.NodeDescriptor { return append([]types.NodeDescriptor(nil), l.succ...) }
func (l *staticLocal) Fingers() []types.NodeDescriptor    { return append([]types.NodeDescriptor(nil), l.fingers...) }

// manualCall 由测试手动完成的调用
type manualCall struct {
	id       uint64
	dst      types.NodeDescriptor
	req      *types.RouteRequest
	done     func(*types.RouteReply, error)
	canceled atomic.Bool
	finished chan struct{}
}

func (c *manualCall) ID() string            { return fmt.Sprintf("manual-%d", c.id) }
func (c *manualCall) Cancel()               { c.canceled.Store(true) }
func (c *manualCall) Done() <-chan struct{} { return c.finished }

// manualDispatcher 把调用挂起，直到测试显式给出应答
//
// 应答在测试 goroutine 中投递，因此不会在 InvokeAsync 内同步回调。
type manualDispatcher struct {
	mu      sync.Mutex
	seq     uint64
	pending []*manualCall
	all     []*manualCall
}

func (d *manualDispatcher) Invoke(context.Context, types.NodeDescriptor, *types.RouteRequest) (*types.RouteReply, error) {
	return nil, errors.New("manual dispatcher: sync invoke unsupported")
}

func (d *manualDispatcher) InvokeAsync(_ context.Context, dst types.NodeDescriptor, req *types.RouteRequest,
	done func(*types.RouteReply, error)) interfaces.RPCHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	c := &manualCall{id: d.seq, dst: dst, req: req, done: done, finished: make(chan struct{})}
	d.pending = append(d.pending, c)
	d.all = append(d.all, c)
	return c
}

// dsts 尚未应答且未被取消的调用目标（按发出顺序）
func (d *manualDispatcher) dsts() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingLocked()
}

// take 取出发往 id 的最早一次调用，优先未被取消的调用
func (d *manualDispatcher) take(t *testing.T, id uint64) *manualCall {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, wantCanceled := range []bool{false, true} {
		for i, c := range d.pending {
			if small(c.dst.ID) == id && c.canceled.Load() == wantCanceled {
				d.pending = append(d.pending[:i], d.pending[i+1:]...)
				return c
			}
		}
	}
	require.Failf(t, "no pending call", "dst=%d pending=%v", id, d.pendingLocked())
	return nil
}

func (d *manualDispatcher) pendingLocked() []uint64 {
	out := make([]uint64, 0, len(d.pending))
	for _, c := range d.pending {
		if !c.canceled.Load() {
			out = append(out, small(c.dst.ID))
		}
	}
	return out
}

// reply 以后继列表应答发往 id 的最早一次调用（即使该调用已被取消）
func (d *manualDispatcher) reply(t *testing.T, id uint64, nodes ...uint64) *manualCall {
	t.Helper()
	c := d.take(t, id)
	c.done(&types.RouteReply{Nodes: nds(nodes...)}, nil)
	close(c.finished)
	return c
}

// replyRaw 以任意应答完成调用
func (d *manualDispatcher) replyRaw(t *testing.T, id uint64, reply *types.RouteReply) {
	t.Helper()
	c := d.take(t, id)
	c.done(reply, nil)
	close(c.finished)
}

// fail 以错误完成调用
func (d *manualDispatcher) fail(t *testing.T, id uint64, err error) {
	t.Helper()
	c := d.take(t, id)
	c.done(nil, err)
	close(c.finished)
}

func (d *manualDispatcher) canceledCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.all {
		if c.canceled.Load() {
			n++
		}
	}
	return n
}

// collector 收集续延事件
type collector struct {
	ch chan interfaces.HopResult
}

func newCollector() *collector {
	return &collector{ch: make(chan interfaces.HopResult, 64)}
}

func (c *collector) cb(res interfaces.HopResult) {
	c.ch <- res
}

func (c *collector) next(t *testing.T) interfaces.HopResult {
	t.Helper()
	select {
	case res := <-c.ch:
		return res
	case <-time.After(5 * time.Second):
		require.FailNow(t, "等待续延事件超时")
		return interfaces.HopResult{}
	}
}

func (c *collector) pending() int {
	return len(c.ch)
}

// memRecorder 内存证据记录
type memRecorder struct {
	mu  sync.Mutex
	evs []types.Evidence
}

func (r *memRecorder) Record(_ context.Context, ev types.Evidence) error {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) IsSuspect(id types.RingID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.evs {
		if ev.Suspect.ID == id {
			return true
		}
	}
	return false
}

func (r *memRecorder) byKind(kind types.EvidenceKind) []types.Evidence {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Evidence
	for _, ev := range r.evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// newManualIterator 以手动分发器创建迭代器
func newManualIterator(t *testing.T, cfg *Config, local *staticLocal, k uint64) (*Iterator, *manualDispatcher, *memRecorder) {
	t.Helper()
	d := &manualDispatcher{}
	rec := &memRecorder{}
	f, err := NewFactory(cfg, local, d, WithEvidenceRecorder(rec))
	require.NoError(t, err)
	it := f.ProduceIteratorPtr(key(k))
	t.Cleanup(func() { _ = it.Close() })
	return it, d, rec
}
