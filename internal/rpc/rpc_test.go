package rpc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secchord/pkg/types"
)

var (
	testDst = types.NodeDescriptor{ID: types.RingIDFromUint64(20), Addr: "n20"}
	testReq = &types.RouteRequest{Op: types.OpGetSuccessors, Key: types.RingIDFromUint64(25)}
)

func echo(_ context.Context, dst types.NodeDescriptor, _ *types.RouteRequest) (*types.RouteReply, error) {
	return &types.RouteReply{Nodes: []types.NodeDescriptor{dst}}, nil
}

func blocking(ctx context.Context, _ types.NodeDescriptor, _ *types.RouteRequest) (*types.RouteReply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// ============================================================================
//                              Call 测试
// ============================================================================

func TestCall_Completes(t *testing.T) {
	defer leaktest.Check(t)()

	got := make(chan *types.RouteReply, 1)
	c := NewCall(context.Background(), testDst, testReq, echo, func(reply *types.RouteReply, err error) {
		assert.NoError(t, err)
		got <- reply
	}).Start()

	_, err := uuid.Parse(c.ID())
	require.NoError(t, err)
	assert.Equal(t, testDst, c.Dst())

	select {
	case reply := <-got:
		assert.Equal(t, []types.NodeDescriptor{testDst}, reply.Nodes)
	case <-time.After(time.Second):
		t.Fatal("回调未被调用")
	}
	<-c.Done()

	t.Log("✅ 调用完成后回调恰好一次")
}

func TestCall_CancelSuppressesCallback(t *testing.T) {
	defer leaktest.Check(t)()

	var called atomic.Bool
	c := NewCall(context.Background(), testDst, testReq, blocking, func(*types.RouteReply, error) {
		called.Store(true)
	}).Start()

	c.Cancel()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("取消后调用未结束")
	}
	assert.False(t, called.Load())

	// 重复取消无副作用
	c.Cancel()

	t.Log("✅ 取消后回调不再被调用")
}

func TestCall_TimeoutNormalized(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	NewCall(ctx, testDst, testReq, blocking, func(_ *types.RouteReply, err error) {
		errCh <- err
	}).Start()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, "timeout", Kind(err))
	case <-time.After(time.Second):
		t.Fatal("超时未返回")
	}

	t.Log("✅ 超时映射为 ErrTimeout")
}

// ============================================================================
//                              适配器测试
// ============================================================================

func TestSyncFromAsync(t *testing.T) {
	defer leaktest.Check(t)()

	d := AsyncFromSync(echo)
	invoke := SyncFromAsync(d)

	reply, err := invoke(context.Background(), testDst, testReq)
	require.NoError(t, err)
	assert.Len(t, reply.Nodes, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = SyncFromAsync(AsyncFromSync(blocking))(ctx, testDst, testReq)
	assert.ErrorIs(t, err, ErrCanceled)

	t.Log("✅ 同步异步互转正确")
}

func TestFuncDispatcher_Invoke(t *testing.T) {
	d := AsyncFromSync(func(context.Context, types.NodeDescriptor, *types.RouteRequest) (*types.RouteReply, error) {
		return nil, context.DeadlineExceeded
	})
	_, err := d.Invoke(context.Background(), testDst, testReq)
	assert.ErrorIs(t, err, ErrTimeout)

	t.Log("✅ 同步调用错误被归一化")
}

// ============================================================================
//                              错误测试
// ============================================================================

func TestNormalizeAndKind(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Equal(t, "ok", Kind(nil))

	other := errors.New("boom")
	assert.Equal(t, other, Normalize(other))
	assert.Equal(t, "other", Kind(other))

	assert.ErrorIs(t, Normalize(context.Canceled), ErrCanceled)
	assert.Equal(t, ErrTimeout, Normalize(ErrTimeout))

	wrapped := NewError(types.OpGetSuccessors, testDst, ErrMalformedReply)
	assert.ErrorIs(t, wrapped, ErrMalformedReply)
	assert.Equal(t, "malformed", Kind(wrapped))
	assert.Contains(t, wrapped.Error(), "get_successors")

	assert.Equal(t, "unreachable", Kind(ErrUnreachable))
	assert.Equal(t, "rate_limited", Kind(ErrRateLimited))

	t.Log("✅ 错误分类正确")
}

// ============================================================================
//                              限速测试
// ============================================================================

func TestLimited_AllowRejectsBurst(t *testing.T) {
	var calls atomic.Int32
	next := AsyncFromSync(func(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
		calls.Add(1)
		return echo(ctx, dst, req)
	})
	l, err := RateLimited(next, LimiterConfig{Rate: 0.001, Burst: 2})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := l.Invoke(ctx, testDst, testReq)
		require.NoError(t, err)
	}
	_, err = l.Invoke(ctx, testDst, testReq)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(2), calls.Load())

	// 不同目标各自计数
	other := types.NodeDescriptor{ID: types.RingIDFromUint64(30), Addr: "n30"}
	_, err = l.Invoke(ctx, other, testReq)
	assert.NoError(t, err)

	t.Log("✅ 非等待模式超出突发后拒绝")
}

func TestLimited_WaitHonorsDeadline(t *testing.T) {
	l, err := RateLimited(AsyncFromSync(echo), LimiterConfig{Rate: 0.001, Burst: 1, Wait: true})
	require.NoError(t, err)

	_, err = l.Invoke(context.Background(), testDst, testReq)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Invoke(ctx, testDst, testReq)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout), "err=%v", err)

	t.Log("✅ 等待模式受 ctx 截止时间约束")
}

func TestLimited_Async(t *testing.T) {
	defer leaktest.Check(t)()

	l, err := RateLimited(AsyncFromSync(echo), DefaultLimiterConfig())
	require.NoError(t, err)

	got := make(chan error, 1)
	l.InvokeAsync(context.Background(), testDst, testReq, func(_ *types.RouteReply, err error) {
		got <- err
	})
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("异步调用未完成")
	}

	t.Log("✅ 限速装饰器支持异步调用")
}

func TestRateLimited_InvalidConfig(t *testing.T) {
	_, err := RateLimited(AsyncFromSync(echo), LimiterConfig{Rate: 0, Burst: 1})
	assert.Error(t, err)
	_, err = RateLimited(AsyncFromSync(echo), LimiterConfig{Rate: 1, Burst: 0})
	assert.Error(t, err)

	t.Log("✅ 非法限速配置被拒绝")
}
