package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	command := args[0]
	if command == "help" || command == "-h" || command == "--help" {
		printMigrateUsage()
		return
	}

	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args[1:])

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	m, err := migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := migration.NewCLI(m).Run(ctx, command, fs.Args()...)
	stop()

	if err := m.Close(); err != nil {
		logger.Warn("close migrator failed", zap.Error(err))
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", runErr)
		_ = logger.Sync()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command.
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  valuationflow migrate <subcommand> [--config <path>] [args]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  status      Show migration status
  version     Show current migration version
  force <v>   Force set migration version (fixes dirty state)

The database comes from the 'database' section of the config file and
the VALUATIONFLOW_DATABASE_* environment variables. Only postgres and
mysql carry versioned migrations; SQLite tables are created by the server.

Examples:
  valuationflow migrate up --config config.yaml
  valuationflow migrate status
  valuationflow migrate force --config config.yaml 1`)
}
