// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package persistence 提供检查点与召回索引的持久化存储。

# 概述

每个通过校验的阶段都会写入一个 Checkpoint（会话 + 序号唯一，只写一次、
永不覆盖），用于崩溃后的断点续跑；完成的运行写入召回索引，在新鲜度窗口
（默认 24 小时）内的相同 subject + scope 请求可直接复用结果。

# 存储后端

  - Memory：开发与测试（默认）
  - SQL：gorm，支持 postgres / mysql / sqlite
  - Redis：go-redis，MULTI 事务保证幂等提交
  - Badger：嵌入式 KV，支持值日志 GC

# 核心接口

Store 定义 Commit、LatestCheckpoint、ListCheckpoints、Recall、
IndexCompletion、Prune、Ping、Close。未命中时返回 ErrNotFound。
*/
package persistence
