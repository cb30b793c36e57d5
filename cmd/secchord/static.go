package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/internal/ring"
	"github.com/dep2p/go-secchord/pkg/types"
)

// parsePeers 解析 id@host:port 列表
func parsePeers(s string) ([]types.NodeDescriptor, error) {
	var out []types.NodeDescriptor
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, addr, ok := strings.Cut(part, "@")
		if !ok || addr == "" {
			return nil, fmt.Errorf("无效的成员 %q，应为 id@host:port", part)
		}
		id, err := types.ParseRingID(idStr)
		if err != nil {
			return nil, fmt.Errorf("成员 %q: %w", part, err)
		}
		out = append(out, types.NodeDescriptor{ID: id, Addr: addr})
	}
	if len(out) == 0 {
		return nil, errors.New("成员列表为空")
	}
	return out, nil
}

// staticLocal 根据 -peers / -self 构建静态环并返回本节点
func staticLocal(cfg *config.Config) (*ring.Node, error) {
	descs, err := parsePeers(*peers)
	if err != nil {
		return nil, err
	}
	selfID, err := types.ParseRingID(*self)
	if err != nil {
		return nil, fmt.Errorf("-self: %w", err)
	}
	r, err := ring.Build(descs, cfg.Routing.SuccListSize)
	if err != nil {
		return nil, err
	}
	local, err := r.Node(selfID)
	if err != nil {
		return nil, fmt.Errorf("-self 不在成员列表中: %w", err)
	}
	return local, nil
}

// keyID 把用户输入映射到环上
//
// 以 0x 开头时按十六进制标识解析，否则取 SHA-1。
func keyID(s string) types.RingID {
	if hexStr, ok := strings.CutPrefix(s, "0x"); ok {
		if id, err := types.ParseRingID(hexStr); err == nil {
			return id
		}
	}
	return types.HashRingID([]byte(s))
}
