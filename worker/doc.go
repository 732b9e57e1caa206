// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package worker 提供阶段 Worker 的适配器与注册表。

# 概述

管道本身不关心阶段内容如何计算。本包把远端计算服务包装为
workflow.Worker：HTTPWorker 将 WorkerInput 以 JSON 形式 POST 到
{endpoint}/stages/{stage}，并把 HTTP 结果映射为瞬时或永久错误。

# 错误映射

  - 429、5xx、超时、连接失败：瞬时错误（退避重试）
  - 其他 4xx：永久错误（立即失败）
  - 2xx 但响应体不是合法 JSON：返回空 Payload，由结构校验拒绝并带反馈重试

# 注册表

Registry 按阶段名选择 Worker，未注册的阶段回落到默认 Worker，
实现 valuation.WorkerSource。
*/
package worker
