// Package evidence 记录路由过程中观察到的不当行为
//
// Recorder 在内存中按嫌疑节点累计证据（LRU 限制跟踪的节点数），
// 计数达到阈值的节点被列为可疑。启用账本时，每条证据同时以 JSON
// 写入持久化存储，进程重启后计数仍然有效。
//
// 可疑标记只用于观察与报告，不参与路由决策。
package evidence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-secchord/internal/storage/kv"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("evidence")

// 预定义错误
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("evidence: invalid config")
)

// recentLimit 每个节点在内存中保留的最近证据条数
const recentLimit = 16

// Config 证据记录配置
type Config struct {
	// SuspectThreshold 证据条数达到该值时节点被列为可疑
	SuspectThreshold int

	// TrackerSize 内存中跟踪的节点数量上限
	TrackerSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		SuspectThreshold: 3,
		TrackerSize:      1024,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.SuspectThreshold <= 0 {
		return fmt.Errorf("%w: suspect threshold must be positive", ErrInvalidConfig)
	}
	if c.TrackerSize <= 0 {
		return fmt.Errorf("%w: tracker size must be positive", ErrInvalidConfig)
	}
	return nil
}

// SuspectInfo 嫌疑节点摘要
type SuspectInfo struct {
	Node   types.NodeDescriptor       `json:"node"`
	Count  int                        `json:"count"`
	Kinds  map[types.EvidenceKind]int `json:"kinds"`
	Recent []types.Evidence           `json:"-"`
}

// record 单个节点的内存记录
type record struct {
	node   types.NodeDescriptor
	count  int
	kinds  map[types.EvidenceKind]int
	recent []types.Evidence
}

// Option 记录器选项
type Option func(*Recorder)

// WithClock 设置时钟
func WithClock(c clock.Clock) Option {
	return func(r *Recorder) {
		r.clock = c
	}
}

// WithLedger 启用持久化账本
func WithLedger(store *kv.Store) Option {
	return func(r *Recorder) {
		r.ledger = store
	}
}

// ============================================================================
//                              Recorder
// ============================================================================

// Recorder 证据记录器
//
// 实现 interfaces.EvidenceRecorder。nil *Recorder 的所有方法都是空操作。
type Recorder struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	tracker *lru.Cache[types.RingID, *record]

	ledger *kv.Store
	seq    atomic.Uint64
	total  atomic.Int64
}

var _ interfaces.EvidenceRecorder = (*Recorder)(nil)

// NewRecorder 创建证据记录器
func NewRecorder(cfg Config, opts ...Option) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tracker, err := lru.New[types.RingID, *record](cfg.TrackerSize)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:     cfg,
		clock:   clock.New(),
		tracker: tracker,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record 记录一条证据
func (r *Recorder) Record(ctx context.Context, ev types.Evidence) error {
	if r == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = r.clock.Now()
	}
	r.total.Add(1)

	r.mu.Lock()
	rec, ok := r.tracker.Get(ev.Suspect.ID)
	if !ok {
		// 重启后从账本续上已有计数
		rec = &record{
			node:  ev.Suspect,
			count: r.ledgerCount(ev.Suspect.ID),
			kinds: make(map[types.EvidenceKind]int),
		}
		r.tracker.Add(ev.Suspect.ID, rec)
	}
	rec.count++
	rec.kinds[ev.Kind]++
	rec.recent = append(rec.recent, ev)
	if len(rec.recent) > recentLimit {
		rec.recent = rec.recent[len(rec.recent)-recentLimit:]
	}
	count := rec.count
	r.mu.Unlock()

	if count == r.cfg.SuspectThreshold {
		logger.Warn("节点被列为可疑",
			"suspect", ev.Suspect.String(),
			"count", count,
			"kind", ev.Kind.String())
	} else {
		logger.Debug("记录证据",
			"suspect", ev.Suspect.String(),
			"kind", ev.Kind.String(),
			"key", ev.Key.ShortString(),
			"detail", ev.Detail)
	}

	if r.ledger != nil {
		if err := r.persist(ev); err != nil {
			logger.Warn("写入证据账本失败", "suspect", ev.Suspect.String(), "error", err)
			return err
		}
	}
	return nil
}

// IsSuspect 节点是否已被列为可疑
func (r *Recorder) IsSuspect(id types.RingID) bool {
	return r.Count(id) >= r.threshold()
}

func (r *Recorder) threshold() int {
	if r == nil {
		return 1
	}
	return r.cfg.SuspectThreshold
}

// Count 节点的证据条数
//
// 内存中没有记录时回退到账本计数。
func (r *Recorder) Count(id types.RingID) int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	rec, ok := r.tracker.Peek(id)
	var n int
	if ok {
		n = rec.count
	}
	r.mu.Unlock()
	if ok {
		return n
	}
	return r.ledgerCount(id)
}

// Total 记录的证据总数
func (r *Recorder) Total() int64 {
	if r == nil {
		return 0
	}
	return r.total.Load()
}

// Suspects 返回内存中达到阈值的节点，按证据条数降序
func (r *Recorder) Suspects() []SuspectInfo {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	var out []SuspectInfo
	for _, id := range r.tracker.Keys() {
		rec, ok := r.tracker.Peek(id)
		if !ok || rec.count < r.cfg.SuspectThreshold {
			continue
		}
		kinds := make(map[types.EvidenceKind]int, len(rec.kinds))
		for k, v := range rec.kinds {
			kinds[k] = v
		}
		out = append(out, SuspectInfo{
			Node:   rec.node,
			Count:  rec.count,
			Kinds:  kinds,
			Recent: append([]types.Evidence(nil), rec.recent...),
		})
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Node.ID.Cmp(out[j].Node.ID) < 0
	})
	return out
}

// List 返回节点的证据
//
// 启用账本时返回全部持久化证据，否则返回内存中最近的若干条。
func (r *Recorder) List(id types.RingID) ([]types.Evidence, error) {
	if r == nil {
		return nil, nil
	}
	if r.ledger != nil {
		return r.listLedger(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tracker.Peek(id)
	if !ok {
		return nil, nil
	}
	return append([]types.Evidence(nil), rec.recent...), nil
}

// Forget 清除节点的内存记录
func (r *Recorder) Forget(id types.RingID) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.tracker.Remove(id)
	r.mu.Unlock()
}
