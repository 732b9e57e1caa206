// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，供 SQL 检查点存储使用。

# 核心类型

  - Open：按配置选择 postgres、mysql 或 sqlite（glebarez 纯 Go 驱动）方言，
    启动时连接失败按 internal/backoff 的退避策略重试。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、
    Close()；后台定时探活，并通过 WithStatsHook 导出连接池统计。
  - IsRetryableError：识别死锁、序列化失败、连接中断等可重试错误。
*/
package database
