// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 valuationflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 validation、workflow、
persistence、api 等上层模块提供统一的类型契约。

# 核心类型

  - Request：一次流水线提交（SubjectKey + Scope + SessionID）
  - Error：结构化错误（Code、HTTPStatus、Retryable、Stage）
  - ErrorCode：统一错误码
  - FailureClass：致命失败分类，用于诊断信息

# 主要能力

  - 请求校验：基于 go-playground/validator 的结构体标签
  - 失败分类：IsTransient / IsPermanent 区分退避重试与立即失败
  - 状态码映射：HTTPStatusFor 把错误码映射为 HTTP 状态码
*/
package types
