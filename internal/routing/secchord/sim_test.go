package secchord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dep2p/go-secchord/internal/ring"
	"github.com/dep2p/go-secchord/internal/rpc/sim"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

// simFactory 以 vantage 为发起节点，在仿真网络上创建工厂
func simFactory(t require.TestingT, r *ring.Ring, net *sim.Network, vantage types.RingID, cfg *Config) *Factory {
	local, err := r.Node(vantage)
	require.NoError(t, err)
	f, err := NewFactory(cfg, local, net.Dispatcher())
	require.NoError(t, err)
	return f
}

func TestSim_HonestSmallRing(t *testing.T) {
	r, net, err := sim.NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2)
	require.NoError(t, err)
	f := simFactory(t, r, net, key(40), testConfig())
	defer f.Close()

	for _, k := range []uint64{5, 10, 15, 25, 30, 35, 45} {
		res, err := f.Lookup(context.Background(), key(k))
		require.NoError(t, err, "key=%d", k)
		assert.Equal(t, interfaces.HopBracketed, res.Status)
		assert.Equal(t, r.Owner(key(k)).ID, res.Owner.ID, "key=%d", k)
	}
	assert.Zero(t, f.Live())

	t.Log("✅ 诚实小环上所有查找返回正确归属节点")
}

func TestSim_AllSilentFailsWithQuorum(t *testing.T) {
	defer leaktest.Check(t)()

	r, net, err := sim.NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2)
	require.NoError(t, err)
	for _, d := range r.Descriptors() {
		require.NoError(t, net.SetBehavior(d.ID, sim.Silent))
	}
	f := simFactory(t, r, net, key(40), testConfig(WithRPCTimeout(30*time.Millisecond)))
	defer f.Close()

	it := f.ProduceIteratorPtr(key(25))
	defer it.Close()
	res, err := it.Run(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuorumFailure)
	assert.Equal(t, interfaces.HopFailed, res.Status)
	assert.Equal(t, []uint64{40}, pathIDs(res.Path))
	assert.Zero(t, it.hop.outstanding)

	t.Log("✅ 所有节点超时时以法定数失败结束")
}

func TestSim_Upcall(t *testing.T) {
	r, net, err := sim.NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2)
	require.NoError(t, err)
	require.NoError(t, r.RegisterUpcall(7, 1, func(_ context.Context, req ring.UpcallRequest) ([]byte, error) {
		return []byte(req.Self.Addr + ":" + string(req.Args)), nil
	}))
	f := simFactory(t, r, net, key(40), testConfig())
	defer f.Close()

	res, err := f.LookupWithUpcall(context.Background(), key(25), types.UpcallSpec{Program: 7, Proc: 1, Args: []byte("ping")})
	require.NoError(t, err)
	assert.Equal(t, uint64(30), small(res.Owner.ID))
	assert.Equal(t, []byte("n30:ping"), res.UpcallReply)
	assert.NoError(t, res.UpcallErr)

	res, err = f.LookupWithUpcall(context.Background(), key(25), types.UpcallSpec{Program: 8})
	require.NoError(t, err)
	assert.Equal(t, interfaces.HopBracketed, res.Status)
	assert.Equal(t, uint64(30), small(res.Owner.ID))
	assert.ErrorIs(t, res.UpcallErr, ring.ErrNoHandler)

	t.Log("✅ upcall 投递到归属节点，失败不影响结论")
}

func TestSim_CancelDuringRun(t *testing.T) {
	defer leaktest.Check(t)()

	r, net, err := sim.NewRingNetwork(ring.Descriptors(10, 20, 30, 40), 2)
	require.NoError(t, err)
	require.NoError(t, net.SetBehavior(key(20), sim.Silent))
	require.NoError(t, net.SetBehavior(key(10), sim.Silent))
	f := simFactory(t, r, net, key(40), testConfig(WithRPCTimeout(10*time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = f.Lookup(ctx, key(25))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, f.Live())
	require.NoError(t, f.Close())

	t.Log("✅ 取消查找后没有遗留 goroutine")
}

func TestSim_CrashedNodesTolerated(t *testing.T) {
	descs := ring.RandomDescriptors(24, 3)
	r, net, err := sim.NewRingNetwork(descs, 4)
	require.NoError(t, err)

	// 让一个节点崩溃，其余节点仍能确认归属
	crashed := descs[5].ID
	require.NoError(t, net.Crash(crashed))

	f := simFactory(t, r, net, descs[0].ID, testConfig(WithSuccListSize(4), WithQuorum(2)))
	defer f.Close()

	for i := 0; i < 16; i++ {
		k := types.HashRingID([]byte(fmt.Sprintf("crash-%d", i)))
		res, err := f.Lookup(context.Background(), k)
		require.NoError(t, err, "key %s", k.ShortString())
		assert.Equal(t, interfaces.HopBracketed, res.Status)
		assert.Equal(t, r.Owner(k).ID, res.Owner.ID)
	}
	assert.NotZero(t, net.Calls())

	t.Log("✅ 崩溃节点不会导致错误的归属结论")
}

func TestSim_HonestRingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(5, 40).Draw(rt, "nodes")
		seed := rapid.Int64().Draw(rt, "seed")
		descs := ring.RandomDescriptors(n, seed)
		r, net, err := sim.NewRingNetwork(descs, 4)
		require.NoError(rt, err)

		vantage := descs[rapid.IntRange(0, n-1).Draw(rt, "vantage")].ID
		f := simFactory(rt, r, net, vantage, testConfig(WithSuccListSize(4), WithQuorum(3)))
		defer f.Close()

		k := types.HashRingID([]byte(rapid.StringN(1, 16, -1).Draw(rt, "key")))
		res, err := f.Lookup(context.Background(), k)
		if err != nil {
			rt.Fatalf("honest lookup failed: %v", err)
		}
		if res.Owner.ID != r.Owner(k).ID {
			rt.Fatalf("owner=%s want %s", res.Owner.ID.ShortString(), r.Owner(k).ID.ShortString())
		}
		if res.Path[0].ID != vantage {
			rt.Fatalf("path does not start at vantage")
		}
	})

	t.Log("✅ 诚实环上查找总是返回正确归属节点")
}

func TestSim_ForgedOwnerProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(8, 32).Draw(rt, "nodes")
		seed := rapid.Int64().Draw(rt, "seed")
		descs := ring.RandomDescriptors(n, seed)
		r, net, err := sim.NewRingNetwork(descs, 4)
		require.NoError(rt, err)

		vi := rapid.IntRange(0, n-1).Draw(rt, "vantage")
		mi := rapid.IntRange(0, n-1).Filter(func(i int) bool { return i != vi }).Draw(rt, "malicious")

		k := types.HashRingID([]byte(rapid.StringN(1, 16, -1).Draw(rt, "key")))
		fake := types.NodeDescriptor{ID: k, Addr: "fake"}
		require.NoError(rt, net.SetForge(descs[mi].ID, sim.ForgeOwner(fake)))

		f := simFactory(rt, r, net, descs[vi].ID, testConfig(WithSuccListSize(4), WithQuorum(3)))
		defer f.Close()

		res, err := f.Lookup(context.Background(), k)
		if err != nil {
			rt.Fatalf("lookup with one forger failed: %v", err)
		}
		if res.Status != interfaces.HopBracketed {
			rt.Fatalf("status=%s want bracketed", res.Status)
		}
		if res.Owner.ID != r.Owner(k).ID {
			rt.Fatalf("hijacked: owner=%s want %s", res.Owner.ID.ShortString(), r.Owner(k).ID.ShortString())
		}
	})

	t.Log("✅ 单个伪造节点无法把查找引向伪造的归属节点")
}
