// Package api 是 Swarmplane 控制面 HTTP API 的根包，具体处理器位于 api/handlers。
//
// # API Overview
//
// Swarmplane 对外暴露的 RESTful 接口覆盖：
//   - 任务生命周期（创建、认领、开始、完成、失败）
//   - Swarm 注册与任务推送（POST 推送或 WebSocket 订阅）
//   - 能力匹配、成本追踪与熔断器
//   - 阻塞上报与人工升级
//   - 短期凭证的签发、校验、撤销与轮换
//   - SLO 合规与信誉分
//   - 签名消息校验与出站准入
//
// # Authentication
//
// 启用 JWT 时 /api/ 下的所有路由都需要 Bearer 令牌，令牌 subject 作为审计里的操作者：
//
//	Authorization: Bearer <token>
//
// /health、/healthz、/ready 与 /version 不做鉴权。
//
// # Response Envelope
//
// 所有端点返回统一结构：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "TASK_NOT_FOUND", "message": "..."}, ...}
//
// # Base URL
//
// 默认监听地址为：
//
//	http://localhost:8080
//
// 处理器上的 @Router 注解可直接交给 swag 生成文档：
//
//	swag init -g cmd/swarmplane/main.go -o api --parseDependency --parseInternal
package api
