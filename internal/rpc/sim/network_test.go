package sim

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secchord/internal/ring"
	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/types"
)

var getSucc = &types.RouteRequest{Op: types.OpGetSuccessors, Key: types.RingIDFromUint64(25)}

func newTestRing(t *testing.T, opts ...Option) (*ring.Ring, *Network) {
	t.Helper()
	r, net, err := NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2, opts...)
	require.NoError(t, err)
	return r, net
}

func desc(id uint64) types.NodeDescriptor {
	return ring.Descriptors(id)[0]
}

func TestNetwork_Honest(t *testing.T) {
	_, net := newTestRing(t)
	assert.Equal(t, 4, net.Len())

	reply, err := net.Invoke(context.Background(), desc(20), getSucc)
	require.NoError(t, err)
	assert.Equal(t, ring.Descriptors(30, 40), reply.Nodes)
	assert.Equal(t, uint64(1), net.Calls())
	assert.Zero(t, net.Failed())

	t.Log("✅ 诚实节点返回后继列表")
}

func TestNetwork_CrashedAndUnknown(t *testing.T) {
	_, net := newTestRing(t)
	require.NoError(t, net.Crash(desc(20).ID))

	b, err := net.Behavior(desc(20).ID)
	require.NoError(t, err)
	assert.Equal(t, Crashed, b)

	_, err = net.Invoke(context.Background(), desc(20), getSucc)
	assert.ErrorIs(t, err, rpc.ErrUnreachable)

	_, err = net.Invoke(context.Background(), desc(99), getSucc)
	assert.ErrorIs(t, err, rpc.ErrUnreachable)
	assert.Equal(t, uint64(2), net.Failed())

	require.NoError(t, net.Alive(desc(20).ID))
	_, err = net.Invoke(context.Background(), desc(20), getSucc)
	assert.NoError(t, err)

	assert.ErrorIs(t, net.Crash(desc(99).ID), ErrNotRegistered)
	_, err = net.Behavior(desc(99).ID)
	assert.ErrorIs(t, err, ErrNotRegistered)

	t.Log("✅ 崩溃与未注册节点不可达")
}

func TestNetwork_SilentTimesOut(t *testing.T) {
	defer leaktest.Check(t)()

	_, net := newTestRing(t)
	require.NoError(t, net.SetBehavior(desc(30).ID, Silent))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := net.Invoke(ctx, desc(30), getSucc)
	assert.ErrorIs(t, err, rpc.ErrTimeout)
	assert.Equal(t, "timeout", rpc.Kind(err))

	t.Log("✅ 静默节点只能等到超时")
}

func TestNetwork_Forge(t *testing.T) {
	_, net := newTestRing(t)
	ctx := context.Background()

	require.NoError(t, net.SetForge(desc(20).ID, ForgeList(desc(10))))
	reply, err := net.Invoke(ctx, desc(20), getSucc)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeDescriptor{desc(10)}, reply.Nodes)

	require.NoError(t, net.SetForge(desc(20).ID, ForgeOwner(desc(25))))
	reply, err = net.Invoke(ctx, desc(20), getSucc)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeDescriptor{desc(25)}, reply.Nodes)

	require.NoError(t, net.SetForge(desc(20).ID, ForgeReversed()))
	reply, err = net.Invoke(ctx, desc(20), getSucc)
	require.NoError(t, err)
	assert.Equal(t, ring.Descriptors(40, 30), reply.Nodes)

	require.NoError(t, net.SetForge(desc(20).ID, ForgeSelfLoop()))
	reply, err = net.Invoke(ctx, desc(20), getSucc)
	require.NoError(t, err)
	assert.Equal(t, ring.Descriptors(20, 30, 40), reply.Nodes)

	// upcall 不受后继伪造影响
	require.NoError(t, net.SetForge(desc(20).ID, ForgeOwner(desc(25))))
	_, err = net.Invoke(ctx, desc(20), &types.RouteRequest{Op: types.OpUpcall, Upcall: &types.UpcallSpec{Program: 1}})
	assert.ErrorIs(t, err, ring.ErrNoHandler)

	t.Log("✅ 恶意节点按伪造函数改写应答")
}

func TestNetwork_MockClockLatency(t *testing.T) {
	defer leaktest.Check(t)()

	mock := clock.NewMock()
	_, net := newTestRing(t, WithClock(mock), WithLatency(FixedLatency(100*time.Millisecond)))

	done := make(chan error, 1)
	net.Dispatcher().InvokeAsync(context.Background(), desc(10), getSucc, func(_ *types.RouteReply, err error) {
		done <- err
	})

	select {
	case <-done:
		t.Fatal("延迟未生效")
	case <-time.After(20 * time.Millisecond):
	}

	// 等到调用已在时钟上等待后再推进
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	t.Log("✅ 延迟通过可替换时钟等待")
}

func TestNetwork_Register(t *testing.T) {
	net := NewNetwork()
	n := ring.NewNode(desc(1), nil, nil)
	require.NoError(t, net.Register(desc(1), n))
	assert.ErrorIs(t, net.Register(desc(1), n), ErrAlreadyRegistered)

	net.Unregister(desc(1).ID)
	assert.Zero(t, net.Len())

	t.Log("✅ 注册表不允许重复")
}

func TestJitterLatency(t *testing.T) {
	f := JitterLatency(10*time.Millisecond, 5*time.Millisecond, 1)
	for i := 0; i < 50; i++ {
		d := f(desc(1))
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 15*time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, JitterLatency(10*time.Millisecond, 0, 1)(desc(1)))

	t.Log("✅ 抖动延迟在范围内")
}
