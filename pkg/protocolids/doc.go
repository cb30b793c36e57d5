// Package protocolids 定义 secchord 协议 ID 注册表
//
// # 协议命名规范
//
//   - 路由协议: /secchord/{name}/{version}
//     例如: /secchord/route/1.0.0
//
// QUIC 传输以协议 ID 作为 ALPN，版本不一致的节点在握手阶段即被拒绝。
package protocolids
