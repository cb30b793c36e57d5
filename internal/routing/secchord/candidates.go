package secchord

import (
	"sort"

	"github.com/dep2p/go-secchord/pkg/types"
)

// maxRingID 环上最大距离，用于表示"不在 key 之前"
var maxRingID = func() types.RingID {
	var id types.RingID
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// predDistance 节点 id 到 key 的顺时针距离 (key - id)
//
// 恰好位于 key 上的节点是归属节点而不是前驱，返回最大距离。
func predDistance(key, id types.RingID) types.RingID {
	d := types.Distance(id, key)
	if d.IsZero() {
		return maxRingID
	}
	return d
}

// ============================================================================
//                              CandidateEntry
// ============================================================================

// CandidateEntry 候选集中的一个节点
type CandidateEntry struct {
	// Node 节点描述（首次出现时的版本）
	Node types.NodeDescriptor

	// Count 独立提名该节点的应答者数量
	Count int

	// Position 在候选集中的位置（0 为最靠近归属节点的一端）
	Position int
}

type candidate struct {
	node    types.NodeDescriptor
	dist    types.RingID // key -> node 顺时针距离
	sources map[types.RingID]struct{}
}

func (c *candidate) entry(pos int) CandidateEntry {
	return CandidateEntry{Node: c.node, Count: len(c.sources), Position: pos}
}

// ============================================================================
//                              CandidateSet
// ============================================================================

// CandidateSet 有序候选集
//
// 按 key 到节点的顺时针距离升序排列：Front 是归属节点一侧，
// 末尾是最接近 key 的前驱。每个 RingID 至多一条记录，
// 同一来源对同一节点只计一次佐证。后继列表通常很短，使用有序切片。
type CandidateSet struct {
	key     types.RingID
	entries []*candidate
	index   map[types.RingID]*candidate
}

// NewCandidateSet 创建以 key 为参照的候选集
func NewCandidateSet(key types.RingID) *CandidateSet {
	return &CandidateSet{
		key:   key,
		index: make(map[types.RingID]*candidate),
	}
}

// Key 返回参照键
func (s *CandidateSet) Key() types.RingID {
	return s.key
}

// InsertOrMerge 插入节点或合并佐证
//
// 返回合并后的记录，以及该来源是否带来了新的佐证。
func (s *CandidateSet) InsertOrMerge(d types.NodeDescriptor, source types.RingID) (CandidateEntry, bool) {
	if c, ok := s.index[d.ID]; ok {
		_, seen := c.sources[source]
		if !seen {
			c.sources[source] = struct{}{}
		}
		return c.entry(s.position(c)), !seen
	}

	c := &candidate{
		node:    d,
		dist:    types.Distance(s.key, d.ID),
		sources: map[types.RingID]struct{}{source: {}},
	}
	pos := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].dist.Cmp(c.dist) > 0
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = c
	s.index[d.ID] = c
	return c.entry(pos), true
}

func (s *CandidateSet) position(c *candidate) int {
	pos := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].dist.Cmp(c.dist) >= 0
	})
	return pos
}

// Clear 清空候选集
func (s *CandidateSet) Clear() {
	s.entries = s.entries[:0]
	s.index = make(map[types.RingID]*candidate)
}

// Len 记录数量
func (s *CandidateSet) Len() int {
	return len(s.entries)
}

// Front 返回归属节点一侧的第一条记录
func (s *CandidateSet) Front() (CandidateEntry, bool) {
	if len(s.entries) == 0 {
		return CandidateEntry{}, false
	}
	return s.entries[0].entry(0), true
}

// BestK 按候选集顺序返回前 k 条记录
func (s *CandidateSet) BestK(k int) []CandidateEntry {
	if k > len(s.entries) {
		k = len(s.entries)
	}
	out := make([]CandidateEntry, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, s.entries[i].entry(i))
	}
	return out
}

// Get 按 RingID 查找记录
func (s *CandidateSet) Get(id types.RingID) (CandidateEntry, bool) {
	c, ok := s.index[id]
	if !ok {
		return CandidateEntry{}, false
	}
	return c.entry(s.position(c)), true
}

// Entries 返回全部记录的副本
func (s *CandidateSet) Entries() []CandidateEntry {
	return s.BestK(len(s.entries))
}

// Preceding 返回最接近 key 的前驱，按接近程度排列
//
// exclude 为 nil 时不排除任何节点；k <= 0 表示不限数量。
func (s *CandidateSet) Preceding(k int, exclude func(CandidateEntry) bool) []CandidateEntry {
	var out []CandidateEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		// 距离为 0 的节点位于 key 上，不是前驱
		if s.entries[i].dist.IsZero() {
			continue
		}
		e := s.entries[i].entry(i)
		if exclude != nil && exclude(e) {
			continue
		}
		out = append(out, e)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}

// Select 选出下一轮查询目标
//
// 优先级：min(Count, quorum) 降序，其次接近 key 的程度。
// 佐证达到法定数的节点之间只按接近程度排序，避免被反复提名的节点挤占位置。
func (s *CandidateSet) Select(k, quorum int, exclude func(CandidateEntry) bool) []CandidateEntry {
	pre := s.Preceding(0, exclude)
	capped := func(e CandidateEntry) int {
		if e.Count > quorum {
			return quorum
		}
		return e.Count
	}
	sort.SliceStable(pre, func(i, j int) bool {
		return capped(pre[i]) > capped(pre[j])
	})
	if k > 0 && len(pre) > k {
		pre = pre[:k]
	}
	return pre
}
