package types

import (
	"fmt"
	"time"
)

// EvidenceKind 证据类型
type EvidenceKind uint8

const (
	// EvidenceMalformedReply 应答格式非法（乱序、重复、包含自身等）
	EvidenceMalformedReply EvidenceKind = iota + 1
	// EvidenceContradictoryPair 报告了与其他应答矛盾的夹键节点对
	EvidenceContradictoryPair
	// EvidenceInvalidatedHop 已接受的一跳被后续证据推翻
	EvidenceInvalidatedHop
)

// String 返回证据类型名称
func (k EvidenceKind) String() string {
	switch k {
	case EvidenceMalformedReply:
		return "malformed_reply"
	case EvidenceContradictoryPair:
		return "contradictory_pair"
	case EvidenceInvalidatedHop:
		return "invalidated_hop"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Evidence 一条不当行为证据
type Evidence struct {
	// Kind 证据类型
	Kind EvidenceKind `json:"kind"`

	// Key 发生时的查找键
	Key RingID `json:"key"`

	// Suspect 嫌疑节点
	Suspect NodeDescriptor `json:"suspect"`

	// Pair 相关的夹键节点对（ContradictoryPair）
	Pair [2]RingID `json:"pair,omitempty"`

	// Conflicting 与之矛盾的节点对（ContradictoryPair）
	Conflicting [2]RingID `json:"conflicting,omitempty"`

	// Detail 附加说明
	Detail string `json:"detail,omitempty"`

	// ObservedAt 观察时间
	ObservedAt time.Time `json:"observed_at"`
}
