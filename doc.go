// Package secchord 提供安全 Chord DHT 路由
//
// 查找在每一跳都向当前最接近 key 的若干前驱节点查询后继列表，只接受
// 达到法定数的独立一致应答；伪造、矛盾或结构非法的应答会被记录为证据，
// 并在发现矛盾时回退到上一跳。
//
// # 快速开始
//
//	r, net, _ := sim.NewRingNetwork(descs, 4)
//	local, _ := r.Node(descs[0].ID)
//
//	node, err := secchord.Start(ctx,
//	    secchord.WithPreset("test"),
//	    secchord.WithLocalNode(local),
//	    secchord.WithDispatcher(net.Dispatcher()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	res, err := node.Lookup(ctx, types.HashRingID([]byte("hello")))
//
// # 传输
//
//   - sim: 进程内仿真网络，通过 WithDispatcher 提供
//   - quic: QUIC 传输；本地路由状态实现 Responder 时同时作为服务端
//
// # 组件
//
//   - internal/routing/secchord: 候选集、路由迭代器与迭代器工厂
//   - internal/rpc: 分发器、异步调用与限速
//   - internal/evidence: 证据记录与可疑节点跟踪
//   - internal/storage: BadgerDB 证据账本
package secchord
