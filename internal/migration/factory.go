package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/config"
)

// NewMigratorFromDatabaseConfig 按应用的数据库配置创建迁移器。
// sqlite 的表由 persistence.SQLStore.AutoMigrate 创建，这里直接拒绝。
func NewMigratorFromDatabaseConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("database driver %q has no versioned migrations, its schema is created by the store: %w", cfg.Driver, err)
	}
	return NewMigrator(Config{
		DatabaseType: dbType,
		DSN:          cfg.DSN(),
		Logger:       logger,
	})
}

// Supported 报告驱动是否使用版本化迁移
func Supported(driver string) bool {
	_, err := ParseDatabaseType(driver)
	return err == nil
}
