package sim

import (
	"github.com/dep2p/go-secchord/pkg/types"
)

// ForgeFunc 改写恶意节点的应答
//
// honest 为该节点如实应答的结果（可能为 nil）。
type ForgeFunc func(self types.NodeDescriptor, req *types.RouteRequest, honest *types.RouteReply) (*types.RouteReply, error)

// ForgeOwner 声称 fake 是自己的直接后继
//
// fake 位于 key 上时，应答链 [self, fake] 会夹住 key，试图劫持查找。
func ForgeOwner(fake types.NodeDescriptor) ForgeFunc {
	return func(_ types.NodeDescriptor, req *types.RouteRequest, honest *types.RouteReply) (*types.RouteReply, error) {
		if req.Op != types.OpGetSuccessors {
			return honest, nil
		}
		return &types.RouteReply{Nodes: []types.NodeDescriptor{fake}}, nil
	}
}

// ForgeList 用固定的列表代替后继列表
func ForgeList(nodes ...types.NodeDescriptor) ForgeFunc {
	list := append([]types.NodeDescriptor(nil), nodes...)
	return func(_ types.NodeDescriptor, req *types.RouteRequest, honest *types.RouteReply) (*types.RouteReply, error) {
		if req.Op != types.OpGetSuccessors {
			return honest, nil
		}
		return &types.RouteReply{Nodes: append([]types.NodeDescriptor(nil), list...)}, nil
	}
}

// ForgeReversed 颠倒后继列表顺序，产生结构非法的应答
func ForgeReversed() ForgeFunc {
	return func(_ types.NodeDescriptor, req *types.RouteRequest, honest *types.RouteReply) (*types.RouteReply, error) {
		if req.Op != types.OpGetSuccessors || honest == nil {
			return honest, nil
		}
		n := len(honest.Nodes)
		out := make([]types.NodeDescriptor, n)
		for i, d := range honest.Nodes {
			out[n-1-i] = d
		}
		return &types.RouteReply{Nodes: out}, nil
	}
}

// ForgeSelfLoop 在后继列表开头插入自身
func ForgeSelfLoop() ForgeFunc {
	return func(self types.NodeDescriptor, req *types.RouteRequest, honest *types.RouteReply) (*types.RouteReply, error) {
		if req.Op != types.OpGetSuccessors || honest == nil {
			return honest, nil
		}
		return &types.RouteReply{Nodes: append([]types.NodeDescriptor{self}, honest.Nodes...)}, nil
	}
}
