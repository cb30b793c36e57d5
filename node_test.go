package secchord

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/internal/ring"
	"github.com/dep2p/go-secchord/internal/rpc/sim"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

func id(v uint64) types.RingID {
	return types.RingIDFromUint64(v)
}

// simNode 在 10/20/30/40 小环上以 vantage 为发起节点创建 Node
func simNode(t *testing.T, vantage uint64, opts ...Option) (*Node, *sim.Network) {
	t.Helper()
	r, net, err := sim.NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2)
	require.NoError(t, err)
	local, err := r.Node(id(vantage))
	require.NoError(t, err)

	base := []Option{
		WithPreset("test"),
		WithSuccListSize(2),
		WithQuorum(2),
		WithLocalNode(local),
		WithDispatcher(net.Dispatcher()),
	}
	node, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return node, net
}

func TestNode_Lifecycle(t *testing.T) {
	node, _ := simNode(t, 40)
	ctx := context.Background()

	_, err := node.Lookup(ctx, id(25))
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(ctx))
	assert.ErrorIs(t, node.Start(ctx), ErrAlreadyStarted)
	assert.Equal(t, id(40), node.Self().ID)
	assert.Empty(t, node.Addr())
	assert.Nil(t, node.Gatherer(), "test 预设关闭指标")

	res, err := node.Lookup(ctx, id(25))
	require.NoError(t, err)
	assert.Equal(t, interfaces.HopBracketed, res.Status)
	assert.Equal(t, id(30), res.Owner.ID)

	require.NoError(t, node.Close())
	require.NoError(t, node.Close())
	_, err = node.Lookup(ctx, id(25))
	assert.ErrorIs(t, err, ErrNodeClosed)
	assert.ErrorIs(t, node.Start(ctx), ErrNodeClosed)

	t.Log("✅ 节点生命周期")
}

func TestNode_NewErrors(t *testing.T) {
	_, err := New(WithPreset("test"))
	assert.ErrorIs(t, err, ErrNoLocalNode)

	_, err = New(WithLocalNode(nil))
	assert.ErrorIs(t, err, ErrNilOption)

	_, err = New(WithConfig(nil))
	assert.ErrorIs(t, err, ErrNilOption)

	_, err = New(WithPreset("nope"))
	assert.Error(t, err)

	local := ring.NewNode(ring.Descriptors(40)[0], ring.Descriptors(10, 20), nil)
	_, err = New(WithPreset("test"), WithLocalNode(local))
	assert.ErrorIs(t, err, ErrNoDispatcher)

	_, err = New(WithPreset("test"), WithLocalNode(local), WithQuorum(9))
	assert.Error(t, err, "法定数超过后继列表长度")

	t.Log("✅ 缺少协作者或配置非法时创建失败")
}

func TestNode_LookupBatch(t *testing.T) {
	node, net := simNode(t, 40)
	require.NoError(t, node.Start(context.Background()))
	defer node.Close()

	keys := []types.RingID{id(5), id(15), id(25), id(35), id(45)}
	want := []uint64{10, 20, 30, 40, 10}

	results, err := node.LookupBatch(context.Background(), keys, 2)
	require.NoError(t, err)
	require.Len(t, results, len(keys))
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, id(want[i]), res.Owner.ID, "key=%s", keys[i].ShortString())
	}
	assert.NotZero(t, net.Calls())

	t.Log("✅ 批量查找结果与 key 一一对应")
}

func TestNode_LookupBatchCanceled(t *testing.T) {
	node, _ := simNode(t, 40)
	require.NoError(t, node.Start(context.Background()))
	defer node.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := node.LookupBatch(ctx, []types.RingID{id(5), id(25)}, 0)
	assert.ErrorIs(t, err, context.Canceled)

	t.Log("✅ 取消的批量查找返回 ctx 错误")
}

func TestNode_IteratorAndUpcall(t *testing.T) {
	r, net, err := sim.NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2)
	require.NoError(t, err)
	require.NoError(t, r.RegisterUpcall(3, 1, func(_ context.Context, req ring.UpcallRequest) ([]byte, error) {
		return append([]byte(req.Self.Addr+"/"), req.Args...), nil
	}))
	local, err := r.Node(id(40))
	require.NoError(t, err)

	node, err := Start(context.Background(),
		WithPreset("test"), WithSuccListSize(2), WithQuorum(2),
		WithLocalNode(local), WithDispatcher(net.Dispatcher()))
	require.NoError(t, err)
	defer node.Close()

	res, err := node.LookupWithUpcall(context.Background(), id(15), types.UpcallSpec{Program: 3, Proc: 1, Args: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, []byte("n20/x"), res.UpcallReply)

	it, err := node.Iterator(id(35))
	require.NoError(t, err)
	defer it.Close()
	res, err = it.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, id(40), res.Owner.ID)

	shared := node.RouteFactory().ProduceIterator(id(35))
	assert.Equal(t, id(35), shared.Key())
	require.NoError(t, shared.Close())

	t.Log("✅ 节点提供 upcall 查找与独占迭代器")
}

func TestNode_EvidenceAndSuspects(t *testing.T) {
	node, net := simNode(t, 40, WithEvidence(true, true))
	require.NoError(t, net.SetForge(id(20), sim.ForgeReversed()))
	require.NoError(t, node.Start(context.Background()))
	defer node.Close()

	for i := 0; i < 3; i++ {
		_, _ = node.Lookup(context.Background(), id(25))
	}

	evs, err := node.Evidence(id(20))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(evs), 3)
	for _, ev := range evs {
		assert.Equal(t, types.EvidenceMalformedReply, ev.Kind)
	}

	suspects := node.Suspects()
	require.NotEmpty(t, suspects)
	assert.Equal(t, id(20), suspects[0].Node.ID)

	t.Log("✅ 结构非法的应答持久化为证据并使节点成为可疑")
}

func TestNode_EvidenceDisabled(t *testing.T) {
	node, _ := simNode(t, 40, WithEvidence(false, false))
	require.NoError(t, node.Start(context.Background()))
	defer node.Close()

	_, err := node.Lookup(context.Background(), id(25))
	require.NoError(t, err)
	assert.Empty(t, node.Suspects())
	evs, err := node.Evidence(id(20))
	assert.NoError(t, err)
	assert.Empty(t, evs)

	t.Log("✅ 关闭证据记录时查找不受影响")
}

func TestNode_MetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	node, _ := simNode(t, 40,
		WithRegistry(reg),
		WithMetrics(true, "127.0.0.1:0"),
		WithRateLimit(1000, 10))
	require.NoError(t, node.Start(context.Background()))
	defer node.Close()

	_, err := node.Lookup(context.Background(), id(25))
	require.NoError(t, err)

	assert.Same(t, prometheus.Gatherer(reg), node.Gatherer())
	count, err := testutil.GatherAndCount(reg, "secchord_routing_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NotEmpty(t, node.MetricsAddr())
	resp, err := http.Get("http://" + node.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "secchord_routing_lookups_total")

	t.Log("✅ 指标注册到给定注册表并通过 HTTP 暴露")
}

// freeUDPAddr 预留一个本地 UDP 端口
func freeUDPAddr(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())
	return addr
}

func TestNode_QUICRing(t *testing.T) {
	descs := ring.Descriptors(10, 20, 30, 40)
	for i := range descs {
		descs[i].Addr = freeUDPAddr(t)
	}
	r, err := ring.Build(descs, 2)
	require.NoError(t, err)

	nodes := make(map[uint64]*Node, len(descs))
	for _, v := range []uint64{10, 20, 30, 40} {
		local, err := r.Node(id(v))
		require.NoError(t, err)
		node, err := Start(context.Background(),
			WithPreset("test"),
			WithSuccListSize(2), WithQuorum(2),
			WithRPCTimeout(2*time.Second),
			WithTransport(config.TransportQUIC),
			WithListenAddr(local.Self().Addr),
			WithLocalNode(local))
		require.NoError(t, err)
		nodes[v] = node
		assert.Equal(t, local.Self().Addr, node.Addr())
	}
	defer func() {
		for _, n := range nodes {
			assert.NoError(t, n.Close())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := nodes[40].Lookup(ctx, id(25))
	require.NoError(t, err)
	assert.Equal(t, id(30), res.Owner.ID)

	res, err = nodes[10].Lookup(ctx, id(35))
	require.NoError(t, err)
	assert.Equal(t, id(40), res.Owner.ID)

	t.Log("✅ 基于 QUIC 的四节点环完成安全查找")
}
