package ring

import (
	"context"
	"fmt"
	"sync"

	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/types"
)

// UpcallRequest 投递给应用层处理程序的 upcall
type UpcallRequest struct {
	// Self 接收 upcall 的节点（已确认的归属节点）
	Self types.NodeDescriptor

	// Key 查找目标
	Key types.RingID

	// Args 不透明参数
	Args []byte
}

// UpcallHandler 应用层 upcall 处理程序
type UpcallHandler func(ctx context.Context, req UpcallRequest) ([]byte, error)

type upcallKey struct {
	program uint32
	proc    uint32
}

// UpcallRegistry 按 (program, proc) 注册的 upcall 处理程序
type UpcallRegistry struct {
	mu       sync.RWMutex
	handlers map[upcallKey]UpcallHandler
}

// NewUpcallRegistry 创建注册表
func NewUpcallRegistry() *UpcallRegistry {
	return &UpcallRegistry{handlers: make(map[upcallKey]UpcallHandler)}
}

// Register 注册处理程序
func (r *UpcallRegistry) Register(program, proc uint32, h UpcallHandler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", ErrNoHandler)
	}
	k := upcallKey{program, proc}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[k]; ok {
		return fmt.Errorf("%w: program=%d proc=%d", ErrHandlerExists, program, proc)
	}
	r.handlers[k] = h
	return nil
}

// Unregister 注销处理程序
func (r *UpcallRegistry) Unregister(program, proc uint32) {
	r.mu.Lock()
	delete(r.handlers, upcallKey{program, proc})
	r.mu.Unlock()
}

// Dispatch 调用匹配的处理程序
func (r *UpcallRegistry) Dispatch(ctx context.Context, self types.NodeDescriptor, key types.RingID, spec *types.UpcallSpec) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: missing upcall spec", rpc.ErrUnsupportedOp)
	}

	r.mu.RLock()
	h, ok := r.handlers[upcallKey{spec.Program, spec.Proc}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: program=%d proc=%d", ErrNoHandler, spec.Program, spec.Proc)
	}
	return h(ctx, UpcallRequest{Self: self, Key: key, Args: spec.Args})
}
