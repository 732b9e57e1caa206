// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ValuationFlow 服务端程序入口。

# 概述

cmd/valuationflow 是估值管道的可执行入口，提供 HTTP API 服务、单次估值、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
环境变量覆盖、结构化日志（zap）、Prometheus 指标以及日志级别热重载。

# 核心类型

  - Server：组装存储、执行器、事件中心与 HTTP 服务并管理生命周期
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、run（单次估值输出 JSON）、migrate、version、health
  - API 路由：POST /api/v1/valuations，GET /api/v1/sessions/{id}/checkpoints，
    GET /api/v1/sessions/{id}/events（WebSocket），/health、/ready、/version
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、RateLimiter（基于 IP）、Auth（API Key / JWT）
  - 存储：memory、sql（postgres/mysql/sqlite，可选启动迁移）、redis、badger
  - 后台清理：按 store.retention 定期删除过期检查点与召回索引
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号 → 停止接收请求 → 排空进行中的运行 → 关闭存储与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
