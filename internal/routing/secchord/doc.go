// Package secchord 实现 Chord 环上的安全逐跳路由
//
// # 威胁模型
//
// 任何应答者都可能伪造自己的后继列表。迭代器因此不信任单个应答：
// 每跳向一组候选后继并行查询，把所有应答合并进有序候选集并统计
// 每个节点被多少个独立应答者提名，只有在法定数量（Quorum）的
// 一致应答支持下才前进或宣布归属节点。
//
// # 逐跳流程
//
//	FirstHop ──► FirstHopSent ──► HopPending ⇄ HopSettled ──► Bracketed
//	                                   │                    └──► Failed
//	                                   └── 矛盾：PopBack 后继续本跳
//
// 每跳结束的条件是所有查询都已返回，或者门限提前满足（此时取消剩余
// 查询）。门限满足的两种情况：
//   - 某个夹住 key 的相邻节点对 (pred, succ] 被至少 Quorum 个应答者报告，
//     或发起节点自己的后继列表已夹住 key：查找确认，succ 为归属节点
//   - 某个比上一跳更接近 key 的节点被至少 Quorum 个应答者提名：
//     接受该节点为新的一跳（HopAdvanced）
//
// 未达门限时用候选集中尚未查询的节点重试，预算耗尽后以
// ErrQuorumFailure 结束，并附带已接受的部分路径。
//
// # 使用
//
//	f, _ := secchord.NewFactory(cfg, local, dispatcher)
//	res, err := f.Lookup(ctx, key)
//
// 需要逐跳控制时使用 ProduceIteratorPtr 并自行调用 FirstHop / NextHop。
package secchord
