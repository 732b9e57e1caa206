// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 ValuationFlow 的配置管理。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 VALUATIONFLOW_）的顺序加载，
// 并通过 validator 结构标签与跨字段检查完成验证。Reloader 轮询配置文件，
// 在文件变化时重新加载并回调，用于运行时调整日志级别。
package config
