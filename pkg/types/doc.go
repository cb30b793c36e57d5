// Package types 定义 secchord 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 secchord 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ring.go: RingID 与环上区间运算（Distance / Between / Brackets）
//   - route.go: NodeDescriptor、UpcallSpec、路由 RPC 请求与应答
//   - evidence.go: 不当行为证据
package types
