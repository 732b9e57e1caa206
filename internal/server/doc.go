// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 API 与指标两个 HTTP 服务器的生命周期。

  - Manager：封装 http.Server，非阻塞 Start（配置 TLS 时走 HTTPS），
    在 ShutdownTimeout 内优雅关闭，异步错误经 Errors() 传出。
  - Group：同时运行多个 Manager，ctx 结束或任一服务器失败时统一关闭。
    信号处理由调用方通过 signal.NotifyContext 转成 ctx。
*/
package server
