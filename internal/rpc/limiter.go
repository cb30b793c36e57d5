package rpc

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/types"
)

// LimiterConfig 限速配置
type LimiterConfig struct {
	// Rate 每个目标每秒允许的调用数
	Rate float64

	// Burst 突发容量
	Burst int

	// MaxDestinations 记录限速器的目标数量上限
	MaxDestinations int

	// Wait 为 true 时等待令牌，否则立即以 ErrRateLimited 失败
	Wait bool
}

// DefaultLimiterConfig 返回默认限速配置
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Rate:            200,
		Burst:           50,
		MaxDestinations: 4096,
		Wait:            true,
	}
}

// Limited 按目标限速的 Dispatcher 装饰器
type Limited struct {
	next interfaces.Dispatcher
	cfg  LimiterConfig

	mu       sync.Mutex
	limiters *lru.Cache[types.RingID, *rate.Limiter]
}

var _ interfaces.Dispatcher = (*Limited)(nil)

// RateLimited 为 next 加上按目标的令牌桶限速
func RateLimited(next interfaces.Dispatcher, cfg LimiterConfig) (*Limited, error) {
	if cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("rpc: invalid limiter config rate=%v burst=%d", cfg.Rate, cfg.Burst)
	}
	if cfg.MaxDestinations <= 0 {
		cfg.MaxDestinations = DefaultLimiterConfig().MaxDestinations
	}
	cache, err := lru.New[types.RingID, *rate.Limiter](cfg.MaxDestinations)
	if err != nil {
		return nil, err
	}
	return &Limited{next: next, cfg: cfg, limiters: cache}, nil
}

func (l *Limited) limiter(id types.RingID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(id); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)
	l.limiters.Add(id, lim)
	return lim
}

func (l *Limited) acquire(ctx context.Context, dst types.NodeDescriptor) error {
	lim := l.limiter(dst.ID)
	if !l.cfg.Wait {
		if !lim.Allow() {
			return ErrRateLimited
		}
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Normalize(ctx.Err())
		}
		// 等待时间超过 ctx 截止时间
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// Invoke 同步调用
func (l *Limited) Invoke(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest) (*types.RouteReply, error) {
	if err := l.acquire(ctx, dst); err != nil {
		return nil, NewError(req.Op, dst, err)
	}
	return l.next.Invoke(ctx, dst, req)
}

// InvokeAsync 异步调用
//
// 等待令牌发生在调用自己的 goroutine 中，不阻塞调用方。
func (l *Limited) InvokeAsync(ctx context.Context, dst types.NodeDescriptor, req *types.RouteRequest,
	done func(*types.RouteReply, error)) interfaces.RPCHandle {
	return NewCall(ctx, dst, req, l.Invoke, done).Start()
}
