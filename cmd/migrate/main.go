// Package main 提供数据库迁移管理的命令行工具
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/MorseWayne/caseshop/internal/config"
	"github.com/MorseWayne/caseshop/internal/database"
	"github.com/MorseWayne/caseshop/internal/logger"
)

const usage = `Usage: %s -action=[up|down|goto|force|status] [options]

Examples:
  ./migrate -action=up                 # apply all pending migrations
  ./migrate -action=down -steps=1      # roll back one migration
  ./migrate -action=goto -target=2     # migrate to version 2
  ./migrate -action=force -target=0    # clear dirty state
  ./migrate -action=status             # print current version
`

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, goto, force, status")
		steps  = flag.Int("steps", 1, "Number of steps for down migration")
		target = flag.Uint("target", 0, "Target version for goto or force")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "caseshop-migrate", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.New(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database", "error", err)
		}
	}()

	dir := cfg.Migrations.Dir

	switch *action {
	case "up":
		if err := db.RunMigrations(dir); err != nil {
			lg.Sugar().Fatalw("failed to run up migrations", "error", err)
		}
	case "down":
		if *steps <= 0 {
			lg.Fatal("steps must be positive")
		}
		if err := db.MigrateDown(dir, *steps); err != nil {
			lg.Sugar().Fatalw("failed to run down migrations", "error", err)
		}
	case "goto":
		if *target == 0 {
			lg.Fatal("target version must be specified for goto")
		}
		if err := db.MigrateToVersion(dir, *target); err != nil {
			lg.Sugar().Fatalw("failed to migrate to version", "error", err)
		}
	case "force":
		// 允许 0，表示重置为无迁移状态
		lg.Sugar().Warnw("forcing migration version, dirty state will be cleared", "target", *target)
		if err := db.ForceMigrationVersion(dir, *target); err != nil {
			lg.Sugar().Fatalw("failed to force migration version", "error", err)
		}
	case "status":
		version, dirty, err := db.Version(dir)
		if err != nil {
			lg.Sugar().Fatalw("failed to read migration version", "error", err)
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
	default:
		flag.Usage()
		os.Exit(1)
	}
}
