package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-secchord/pkg/types"
)

// 预定义错误
//
// 这些错误对单次查找都不是致命的：路由迭代器把它们计为一次失败应答。
var (
	// ErrTimeout 调用超时
	ErrTimeout = errors.New("rpc: timeout")

	// ErrUnreachable 目标不可达（未注册、已崩溃、连接失败）
	ErrUnreachable = errors.New("rpc: unreachable")

	// ErrMalformedReply 应答格式非法
	ErrMalformedReply = errors.New("rpc: malformed reply")

	// ErrCanceled 调用被取消
	ErrCanceled = errors.New("rpc: canceled")

	// ErrRateLimited 超出目标的调用速率
	ErrRateLimited = errors.New("rpc: rate limited")

	// ErrUnsupportedOp 应答者不支持该操作
	ErrUnsupportedOp = errors.New("rpc: unsupported op")
)

// Error RPC 错误类型
type Error struct {
	Op  types.RouteOp        // 操作
	Dst types.NodeDescriptor // 目标节点
	Err error                // 底层错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s %s: %v", e.Op, e.Dst, e.Err)
}

// Unwrap 实现错误解包
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 创建 RPC 错误
func NewError(op types.RouteOp, dst types.NodeDescriptor, err error) *Error {
	return &Error{Op: op, Dst: dst, Err: err}
}

// Normalize 将 context 错误映射到 RPC 错误
func Normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrCanceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	default:
		return err
	}
}

// Kind 返回错误类别（指标标签用）
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformedReply):
		return "malformed"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "other"
	}
}
