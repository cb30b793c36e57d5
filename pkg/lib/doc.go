// Package lib 包含基础设施工具库
//
// 本目录包含与路由组件无关的通用工具库：
//
//   - log: 基于 log/slog 的分子系统日志封装
//
// # 与 pkg/ 其他目录的关系
//
//   - interfaces/: 组件公共接口
//   - types/: 公共类型定义
//   - protocolids/: 协议 ID 注册表
//   - lib/: 基础设施工具库（本目录）
package lib
