// Package ring 提供静态的 Chord 环成员视图
//
// 成员维护（加入、离开、稳定化）不在本模块范围内。Build 根据一组
// 已知节点一次性计算每个节点的后继列表和 finger 表，供仿真、测试
// 和命令行演示使用；Owner 给出任意 key 的真实归属节点作为对照。
package ring

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/dep2p/go-secchord/pkg/types"
)

// Ring 静态环
type Ring struct {
	nodes        []*Node // 按 ID 升序
	index        map[types.RingID]*Node
	succListSize int
}

// Build 构建静态环
//
// 每个节点的后继列表长度为 min(succListSize, N-1)，finger i 为
// successor(n + 2^i)，去重且不含自身。
func Build(descs []types.NodeDescriptor, succListSize int) (*Ring, error) {
	if len(descs) == 0 {
		return nil, ErrEmptyRing
	}
	if succListSize <= 0 {
		return nil, fmt.Errorf("ring: succ list size must be positive")
	}

	sorted := append([]types.NodeDescriptor(nil), descs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.Cmp(sorted[j].ID) < 0 })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID == sorted[i-1].ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, sorted[i].ID.ShortString())
		}
	}

	r := &Ring{
		nodes:        make([]*Node, len(sorted)),
		index:        make(map[types.RingID]*Node, len(sorted)),
		succListSize: succListSize,
	}
	n := len(sorted)
	size := succListSize
	if size > n-1 {
		size = n - 1
	}

	for i, d := range sorted {
		succ := make([]types.NodeDescriptor, 0, size)
		for j := 1; j <= size; j++ {
			succ = append(succ, sorted[(i+j)%n])
		}
		node := NewNode(d, succ, fingersOf(sorted, i))
		r.nodes[i] = node
		r.index[d.ID] = node
	}

	logger.Debug("静态环已构建", "nodes", n, "succListSize", size)
	return r, nil
}

// fingersOf 计算 sorted[i] 的 finger 表
func fingersOf(sorted []types.NodeDescriptor, i int) []types.NodeDescriptor {
	self := sorted[i]
	seen := map[types.RingID]struct{}{self.ID: {}}
	var out []types.NodeDescriptor
	for bit := 0; bit < types.RingIDLen*8; bit++ {
		f := successorOf(sorted, self.ID.Add(pow2(bit)))
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// pow2 返回 2^bit
func pow2(bit int) types.RingID {
	var id types.RingID
	id[types.RingIDLen-1-bit/8] = 1 << (bit % 8)
	return id
}

// successorOf 第一个 ID >= key 的节点（环绕）
func successorOf(sorted []types.NodeDescriptor, key types.RingID) types.NodeDescriptor {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].ID.Cmp(key) >= 0 })
	if i == len(sorted) {
		i = 0
	}
	return sorted[i]
}

// Len 节点数量
func (r *Ring) Len() int {
	return len(r.nodes)
}

// Nodes 按 ID 升序的节点
func (r *Ring) Nodes() []*Node {
	return append([]*Node(nil), r.nodes...)
}

// Descriptors 按 ID 升序的节点描述
func (r *Ring) Descriptors() []types.NodeDescriptor {
	out := make([]types.NodeDescriptor, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.self
	}
	return out
}

// Node 按 ID 查找节点
func (r *Ring) Node(id types.RingID) (*Node, error) {
	n, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id.ShortString())
	}
	return n, nil
}

// Owner 返回 key 的真实归属节点：predecessor < key <= owner
func (r *Ring) Owner(key types.RingID) types.NodeDescriptor {
	return successorOf(r.Descriptors(), key)
}

// RegisterUpcall 在所有节点上注册同一个处理程序
func (r *Ring) RegisterUpcall(program, proc uint32, h UpcallHandler) error {
	for _, n := range r.nodes {
		if err := n.upcalls.Register(program, proc, h); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
//                              节点生成
// ============================================================================

// Descriptors 用给定的整数 ID 生成节点描述，地址为 "n<id>"
func Descriptors(ids ...uint64) []types.NodeDescriptor {
	out := make([]types.NodeDescriptor, len(ids))
	for i, id := range ids {
		out[i] = types.NodeDescriptor{ID: types.RingIDFromUint64(id), Addr: fmt.Sprintf("n%d", id)}
	}
	return out
}

// RandomDescriptors 生成 n 个随机 ID 的节点描述
//
// ID 为 "node-<i>-<seed>" 的 SHA-1，地址为 "node-<i>"。
func RandomDescriptors(n int, seed int64) []types.NodeDescriptor {
	rng := rand.New(rand.NewSource(seed))
	out := make([]types.NodeDescriptor, 0, n)
	seen := make(map[types.RingID]struct{}, n)
	for len(out) < n {
		name := fmt.Sprintf("node-%d", len(out))
		id := types.HashRingID([]byte(fmt.Sprintf("%s-%d", name, rng.Int63())))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, types.NodeDescriptor{ID: id, Addr: name})
	}
	return out
}
