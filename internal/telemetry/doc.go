// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，集中配置
// TracerProvider 和 MeterProvider；禁用时使用 noop 实现，不连接任何外部服务。
//
// PipelineObserver 实现 workflow.Observer，为每次运行创建一个 span、
// 为每个阶段创建子 span，并记录失败尝试、阶段提交与运行结果计数。
package telemetry
