// Package interfaces 定义 secchord 的公共接口
//
// 接口按协作关系组织：
//
//   - routing.go: LocalNode、RouteIterator、RouteFactory 与逐跳结果
//   - rpc.go: Dispatcher、RPCHandle、Responder
//   - evidence.go: EvidenceRecorder
//
// 实现位于 internal/ 下，路由核心只依赖这里的接口。
package interfaces
