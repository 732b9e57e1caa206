// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ValuationFlow HTTP API 的请求处理器。

# 核心类型

  - ValuationHandler：POST /api/v1/valuations 同步运行估值管道；
    GET /api/v1/sessions/{id}/checkpoints 列出会话检查点
  - EventHub：workflow.Observer 实现，经 WebSocket 推送会话的运行事件
  - HealthHandler：/health 存活、/ready 就绪（可注册 HealthCheck）、/version
  - Response / ErrorInfo：统一 JSON 响应结构
  - ResponseWriter：捕获状态码与字节数，支持 Hijack 与 Flush

# 错误映射

失败运行按失败类别映射状态码：请求错误 400，会话已完成 409，
结构或语义违规与 worker 失败 422，检查点写入与内部错误 500。
失败响应的 data 字段携带完整 RunResult 与诊断信息。
*/
package handlers
