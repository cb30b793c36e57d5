package types

import (
	"fmt"
	"strings"
)

// ============================================================================
//                              NodeDescriptor - 节点描述
// ============================================================================

// NodeDescriptor 某个节点对外宣告的身份与地址
//
// 可能由恶意应答者伪造，在得到佐证之前不可信任。
type NodeDescriptor struct {
	// ID 环标识
	ID RingID `json:"id"`

	// Addr 网络地址（仿真中为节点名，QUIC 下为 host:port）
	Addr string `json:"addr"`
}

// String 返回简短表示
func (d NodeDescriptor) String() string {
	if d.Addr == "" {
		return d.ID.ShortString()
	}
	return fmt.Sprintf("%s@%s", d.ID.ShortString(), d.Addr)
}

// IsZero 检查是否为空描述
func (d NodeDescriptor) IsZero() bool {
	return d.ID.IsZero() && d.Addr == ""
}

// FormatPath 将路径格式化为 "a -> b -> c"
func FormatPath(path []NodeDescriptor) string {
	if len(path) == 0 {
		return "<empty>"
	}
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = n.String()
	}
	return strings.Join(parts, " -> ")
}

// ============================================================================
//                              Upcall - 上行调用
// ============================================================================

// UpcallSpec 在确认归属节点后投递给应用层的消息
//
// Program/Proc 标识目标节点上的处理程序，Args 为不透明参数。
type UpcallSpec struct {
	Program uint32 `json:"program"`
	Proc    uint32 `json:"proc"`
	Args    []byte `json:"args,omitempty"`
}

// ============================================================================
//                              路由 RPC 消息
// ============================================================================

// RouteOp 路由 RPC 操作类型
type RouteOp uint8

const (
	// OpGetSuccessors 请求应答者的后继列表视图
	OpGetSuccessors RouteOp = iota + 1
	// OpUpcall 向归属节点投递 upcall
	OpUpcall
)

// String 返回操作名称
func (op RouteOp) String() string {
	switch op {
	case OpGetSuccessors:
		return "get_successors"
	case OpUpcall:
		return "upcall"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// RouteRequest 路由 RPC 请求
type RouteRequest struct {
	Op     RouteOp     `json:"op"`
	Key    RingID      `json:"key"`
	Upcall *UpcallSpec `json:"upcall,omitempty"`
}

// RouteReply 路由 RPC 应答
//
// 对 OpGetSuccessors，Nodes 为应答者自身的后继列表（按顺时针排列）；
// 对 OpUpcall，Payload 为应用层返回数据。
type RouteReply struct {
	Nodes   []NodeDescriptor `json:"nodes,omitempty"`
	Payload []byte           `json:"payload,omitempty"`
}
