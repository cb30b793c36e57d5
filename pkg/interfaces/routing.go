package interfaces

import (
	"context"
	"io"

	"github.com/dep2p/go-secchord/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
// LocalNode 接口
// ════════════════════════════════════════════════════════════════════════════

// LocalNode 查找发起方（vantage node）的本地路由状态
//
// 成员维护、finger 表构建不在路由核心范围内，这里只读取结果。
type LocalNode interface {
	// Self 本节点描述
	Self() types.NodeDescriptor

	// Successors 本节点的后继列表（顺时针，最近的在前）
	Successors() []types.NodeDescriptor

	// Fingers 本节点的 finger 表项（可为空）
	Fingers() []types.NodeDescriptor
}

// ════════════════════════════════════════════════════════════════════════════
// 路由迭代结果
// ════════════════════════════════════════════════════════════════════════════

// HopStatus 一跳结束时的状态
type HopStatus int

const (
	// HopAdvanced 本跳已确认，调用方应继续 NextHop
	HopAdvanced HopStatus = iota + 1
	// HopBracketed 已确认归属节点（终止事件）
	HopBracketed
	// HopFailed 查找失败（终止事件）
	HopFailed
)

// String 返回状态名称
func (s HopStatus) String() string {
	switch s {
	case HopAdvanced:
		return "advanced"
	case HopBracketed:
		return "bracketed"
	case HopFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 是否为终止状态
func (s HopStatus) Terminal() bool {
	return s == HopBracketed || s == HopFailed
}

// HopResult 一跳结束时交给续延（continuation）的结果
type HopResult struct {
	// Status 本跳状态
	Status HopStatus

	// Hop 本跳接受的节点（HopAdvanced）
	Hop types.NodeDescriptor

	// Owner 已确认的归属节点（HopBracketed）
	Owner types.NodeDescriptor

	// Path 截至目前已接受的路径
	Path []types.NodeDescriptor

	// UpcallReply upcall 投递到归属节点后的返回数据
	UpcallReply []byte

	// UpcallErr upcall 投递失败的原因（不影响 Bracketed 结论）
	UpcallErr error

	// Err 失败原因（HopFailed），通常为 *secchord.RouteError
	Err error
}

// HopFunc 一跳结束后的续延
//
// 同一查找中，终止事件（HopBracketed / HopFailed）恰好投递一次。
type HopFunc func(HopResult)

// ════════════════════════════════════════════════════════════════════════════
// RouteIterator / RouteFactory 接口
// ════════════════════════════════════════════════════════════════════════════

// RouteIterator 逐跳驱动的路由迭代器
//
// 实现位置：internal/routing/secchord/
type RouteIterator interface {
	// Key 查找目标
	Key() types.RingID

	// FirstHop 从本地路由状态开始查找
	FirstHop(ctx context.Context, cb HopFunc, useUpcall bool) error

	// FirstHopFrom 从外部提供的猜测节点开始查找
	FirstHopFrom(ctx context.Context, cb HopFunc, guess types.NodeDescriptor) error

	// Probe 向猜测节点发送一次性探测，不改变本跳计数
	Probe(guess types.NodeDescriptor) error

	// Send 向当前最优候选集重新发出本跳查询
	Send(useUpcall bool) error

	// NextHop 本跳确认后进入下一跳
	NextHop() error

	// PopBack 撤销最近接受的一跳
	PopBack() (types.NodeDescriptor, error)

	// Path 已接受的路径副本
	Path() []types.NodeDescriptor

	// Print 输出诊断信息，不修改状态
	Print(w io.Writer)

	// Run 阻塞驱动整个查找直到终止事件
	Run(ctx context.Context, useUpcall bool) (*HopResult, error)

	// Close 结束迭代器，丢弃所有未完成的调用
	Close() error
}

// RouteFactory 路由迭代器工厂
type RouteFactory interface {
	// ProduceIterator 创建共享迭代器（工厂关闭时一并关闭）
	ProduceIterator(key types.RingID) RouteIterator

	// ProduceIteratorWithUpcall 创建携带 upcall 的共享迭代器
	ProduceIteratorWithUpcall(key types.RingID, up types.UpcallSpec) RouteIterator
}
