package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/dep2p/go-secchord"
	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/internal/ring"
	"github.com/dep2p/go-secchord/internal/rpc/sim"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

// simReport 仿真结果统计
type simReport struct {
	correct  int
	hijacked int
	failed   int
	hops     int
}

// runSim 在仿真环上批量查找
//
// 恶意节点轮流使用三种伪造方式，崩溃节点不再应答；发起节点总是诚实的。
func runSim(ctx context.Context, cfg *config.Config) error {
	if *nodes < 2 {
		return errors.New("仿真至少需要 2 个节点")
	}
	if *malicious+*crashed >= *nodes {
		return fmt.Errorf("恶意与崩溃节点数 (%d) 必须小于节点总数 (%d)", *malicious+*crashed, *nodes)
	}

	descs := ring.RandomDescriptors(*nodes, *seed)
	r, net, err := sim.NewRingNetwork(descs, cfg.Routing.SuccListSize)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	order := rng.Perm(len(descs))
	vantage := descs[order[0]]
	for i, idx := range order[1 : 1+*malicious] {
		if err := net.SetForge(descs[idx].ID, forgeFor(i, rng)); err != nil {
			return err
		}
	}
	for _, idx := range order[1+*malicious : 1+*malicious+*crashed] {
		if err := net.Crash(descs[idx].ID); err != nil {
			return err
		}
	}

	local, err := r.Node(vantage.ID)
	if err != nil {
		return err
	}
	cfg.RPC.Transport = config.TransportSim
	node, err := startNode(ctx,
		secchord.WithConfig(cfg),
		secchord.WithLocalNode(local),
		secchord.WithDispatcher(net.Dispatcher()))
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	keys := make([]types.RingID, *lookups)
	for i := range keys {
		keys[i] = types.HashRingID([]byte(fmt.Sprintf("sim-key-%d-%d", *seed, i)))
	}
	results, err := node.LookupBatch(ctx, keys, 0)
	if err != nil {
		return err
	}

	var rep simReport
	for i, res := range results {
		switch {
		case res == nil || res.Status != interfaces.HopBracketed:
			rep.failed++
		case res.Owner.ID == r.Owner(keys[i]).ID:
			rep.correct++
			rep.hops += len(res.Path) - 1
		default:
			rep.hijacked++
			logger.Warn("查找被劫持", "key", keys[i].ShortString(), "owner", res.Owner.String())
		}
	}

	fmt.Printf("节点=%d 恶意=%d 崩溃=%d 查找=%d RPC=%d（失败 %d）\n",
		*nodes, *malicious, *crashed, len(keys), net.Calls(), net.Failed())
	fmt.Printf("正确=%d 被劫持=%d 失败=%d", rep.correct, rep.hijacked, rep.failed)
	if rep.correct > 0 {
		fmt.Printf(" 平均跳数=%.2f", float64(rep.hops)/float64(rep.correct))
	}
	fmt.Println()
	printSuspects(node)
	return nil
}

// forgeFor 为第 i 个恶意节点选择伪造方式
func forgeFor(i int, rng *rand.Rand) sim.ForgeFunc {
	switch i % 3 {
	case 0:
		var fake types.RingID
		rng.Read(fake[:])
		return sim.ForgeOwner(types.NodeDescriptor{ID: fake, Addr: "forged"})
	case 1:
		return sim.ForgeReversed()
	default:
		return sim.ForgeSelfLoop()
	}
}
