package secchord

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 组装错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNoLocalNode 未提供本地路由状态
	ErrNoLocalNode = errors.New("local node not set")

	// ErrNoDispatcher sim 传输下未提供分发器
	ErrNoDispatcher = errors.New("dispatcher required for sim transport")

	// ErrNilOption 选项参数为空
	ErrNilOption = errors.New("nil option value")
)
