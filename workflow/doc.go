// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供确定性的多阶段管道执行引擎。

# 概述

管道是固定、有序、线性的阶段列表（StageDefinition），每个阶段只能读取
其声明的上游输出（Requires 投影视图）。每个阶段的输出先经过结构校验、
再经过语义规则校验；失败的尝试按错误类别重试；通过校验的阶段立即写入
检查点，之后才会开始下一个阶段。

# 核心接口与类型

  - StageDefinition：阶段声明（名称、依赖、Schema、语义规则、Worker）
  - Pipeline：NewPipeline 校验并分配序号后的不可变阶段列表
  - Worker：计算阶段内容的外部协作者
  - PipelineState：写时复制、只追加的阶段输出映射
  - RetryController：内容错误立即带反馈重试；瞬时错误指数退避重试
  - Executor：Run / Submit / RunAll，召回 → 续跑 → 逐阶段执行 → 索引
  - Observer / Event：运行、阶段、尝试级别的事件通知

# 取消语义

取消只在阶段边界生效：进行中的阶段（Worker 调用、校验、检查点写入）
运行在 context.WithoutCancel 之上；只有两次尝试之间的退避等待会响应取消。

# 并发

同一会话的并发提交通过 singleflight 合并为一次执行；不同会话并发执行，
总并发数由 semaphore 限制（ExecutorConfig.MaxConcurrentRuns）。
*/
package workflow
