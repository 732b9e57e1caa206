// Package api 定义 ValuationFlow HTTP API 的请求与响应类型。
//
// # 端点
//
//	POST /api/v1/valuations                  提交估值运行，同步返回 RunResult
//	GET  /api/v1/sessions/{id}/checkpoints   列出会话已提交的检查点
//	GET  /api/v1/sessions/{id}/events        WebSocket 订阅会话的运行事件
//	GET  /health, /ready, /version           健康检查与版本
//
// 指标在独立端口的 /metrics 暴露。
//
// # 认证
//
// 启用认证后，API 端点需要 X-API-Key 请求头或 Authorization: Bearer <JWT>。
// 健康检查端点免认证。
package api
