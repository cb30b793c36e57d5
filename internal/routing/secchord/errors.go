package secchord

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-secchord/pkg/types"
)

// 预定义错误
var (
	// ErrNoRoute 本地路由状态中没有任何可查询的节点
	ErrNoRoute = errors.New("secchord: no route")

	// ErrQuorumFailure 一跳在耗尽候选与重试预算后仍未达到法定佐证
	ErrQuorumFailure = errors.New("secchord: quorum failure")

	// ErrContradiction 后续证据推翻了已接受的一跳
	ErrContradiction = errors.New("secchord: contradiction detected")

	// ErrEmptyPath 对空路径调用 PopBack
	ErrEmptyPath = errors.New("secchord: empty path")

	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("secchord: invalid iterator state")

	// ErrClosed 迭代器或工厂已关闭
	ErrClosed = errors.New("secchord: closed")

	// ErrNoCandidates 当前一跳没有尚未查询的候选
	ErrNoCandidates = errors.New("secchord: no unqueried candidates")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("secchord: invalid config")

	// ErrNilDispatcher Dispatcher 为空
	ErrNilDispatcher = errors.New("secchord: dispatcher is nil")

	// ErrNilLocalNode LocalNode 为空
	ErrNilLocalNode = errors.New("secchord: local node is nil")
)

// 失败原因
const (
	ReasonNoRoute       = "no_route"
	ReasonQuorum        = "quorum"
	ReasonContradiction = "contradiction"
	ReasonHopBudget     = "hop_budget"
	ReasonCanceled      = "canceled"
)

// RouteError 查找失败错误，携带失败时已接受的部分路径
type RouteError struct {
	Op     string                 // 操作名称
	Reason string                 // 失败原因
	Key    types.RingID           // 查找目标
	Path   []types.NodeDescriptor // 部分路径（不含失败的一跳）
	Err    error                  // 底层错误
}

// Error 实现 error 接口
func (e *RouteError) Error() string {
	return fmt.Sprintf("secchord %s: key=%s reason=%s path=[%s]: %v",
		e.Op, e.Key.ShortString(), e.Reason, types.FormatPath(e.Path), e.Err)
}

// Unwrap 实现错误解包
func (e *RouteError) Unwrap() error {
	return e.Err
}

// NewRouteError 创建路由错误
func NewRouteError(op, reason string, key types.RingID, path []types.NodeDescriptor, err error) *RouteError {
	return &RouteError{
		Op:     op,
		Reason: reason,
		Key:    key,
		Path:   append([]types.NodeDescriptor(nil), path...),
		Err:    err,
	}
}
