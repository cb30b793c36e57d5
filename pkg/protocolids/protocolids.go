package protocolids

import (
	"errors"
	"fmt"
	"strings"
)

// Prefix 所有协议 ID 的前缀
const Prefix = "/secchord/"

// ============================================================================
// 路由协议
// ============================================================================

// Route 路由 RPC 协议（GetSuccessors / Upcall）
const Route = "/secchord/route/1.0.0"

// all 已注册的协议
var all = []string{Route}

// ErrInvalidProtocolID 协议 ID 格式无效
var ErrInvalidProtocolID = errors.New("invalid protocol id")

// All 返回所有已注册的协议 ID
func All() []string {
	return append([]string(nil), all...)
}

// IsKnown 是否为已注册的协议
func IsKnown(id string) bool {
	for _, p := range all {
		if p == id {
			return true
		}
	}
	return false
}

// Validate 检查协议 ID 是否符合 /secchord/{name}/{version}
func Validate(id string) error {
	rest, ok := strings.CutPrefix(id, Prefix)
	if !ok {
		return fmt.Errorf("%w: %q missing prefix %s", ErrInvalidProtocolID, id, Prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q must be %s{name}/{version}", ErrInvalidProtocolID, id, Prefix)
	}
	return nil
}
