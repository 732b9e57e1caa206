// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理检查点存储（checkpoints 与 recall_index 两张表）的
版本化 Schema 迁移，基于 golang-migrate，支持 PostgreSQL 与 MySQL。

迁移文件按方言内嵌在 migrations/<dialect>/ 下，列定义与
persistence.SQLStore 的 gorm 模型一致。SQLite（开发与测试用）的表由
SQLStore.AutoMigrate 创建，不走版本化迁移。

  - Migrator / DefaultMigrator：Up、Down、Steps、Force、Version、Status、Info
  - NewMigratorFromDatabaseConfig：从应用的 config.DatabaseConfig 创建
  - Supported：判断驱动是否使用版本化迁移
  - CLI：valuationflow migrate 子命令的输出层
*/
package migration
