package interfaces

import (
	"context"

	"github.com/dep2p/go-secchord/pkg/types"
)

// EvidenceRecorder 记录路由过程中观察到的不当行为
//
// 实现位置：internal/evidence/
type EvidenceRecorder interface {
	// Record 记录一条证据；实现不得阻塞路由应答处理过久
	Record(ctx context.Context, ev types.Evidence) error

	// IsSuspect 节点是否已被列为可疑
	IsSuspect(id types.RingID) bool
}
