// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、管道执行与
检查点存储三个维度。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace 隔离。
Collector 同时实现 workflow.Observer，注册到 Executor 后即可从管道事件
中得到运行、阶段、尝试级别的计数与耗时。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 管道指标：运行结果（按 status/class）、运行耗时、进行中的运行数、
    召回命中、断点续跑、阶段提交与耗时、失败尝试（按类别）、违规（按规则）。
  - 存储指标：检查点存储操作耗时与错误、数据库连接池状态。
*/
package metrics
