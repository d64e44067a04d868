// Package database 提供 MySQL 连接、迁移与错误分类。
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/MorseWayne/caseshop/internal/config"
)

// MySQL 错误码
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// DB 封装数据库连接
type DB struct {
	*sql.DB
	logger *zap.Logger
	dsn    string
}

// DSN 根据配置生成连接串
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
	)
}

// New 创建数据库连接
func New(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	dsn := DSN(cfg.Database)
	// innodb_lock_wait_timeout 以秒为单位，最小 1 秒
	if wait := int(math.Ceil(cfg.Ledger.LockWaitTimeout.Seconds())); wait > 0 {
		dsn += fmt.Sprintf("&innodb_lock_wait_timeout=%d", wait)
	}

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.DBName),
	)

	return &DB{DB: sqlDB, logger: logger, dsn: dsn}, nil
}

// IsLockConflict 判断是否为死锁或锁等待超时，这类错误可以整体重试事务
func IsLockConflict(err error) bool {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDeadlock || me.Number == errLockWaitTimeout
	}
	return false
}

// IsDuplicateEntry 判断是否违反唯一索引
func IsDuplicateEntry(err error) bool {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDuplicateEntry
	}
	return false
}

// withMigrate 使用独立连接创建 migrate 实例并执行 fn，避免迁移出错影响主连接
func (db *DB) withMigrate(migrationsDir string, fn func(m *migrate.Migrate) error) error {
	migrateSQLDB, err := sql.Open("mysql", db.dsn)
	if err != nil {
		return fmt.Errorf("open database for migration: %w", err)
	}
	defer migrateSQLDB.Close()

	driver, err := mysql.WithInstance(migrateSQLDB, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("create mysql driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsDir),
		"mysql",
		driver,
	)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	return fn(m)
}

// currentVersion 读取当前版本，脏状态直接报错
func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is in dirty state at version %d, please check and fix manually", version)
	}
	return version, nil
}

// RunMigrations 执行全部待执行的向上迁移
func (db *DB) RunMigrations(migrationsDir string) error {
	return db.withMigrate(migrationsDir, func(m *migrate.Migrate) error {
		from, err := currentVersion(m)
		if err != nil {
			return err
		}
		db.logger.Info("current migration version", zap.Uint("version", from))

		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				db.logger.Info("no new migrations to apply")
				return nil
			}
			return fmt.Errorf("run migrations: %w", err)
		}

		to, _, err := m.Version()
		if err != nil {
			return fmt.Errorf("get new version: %w", err)
		}
		db.logger.Info("migrations completed successfully",
			zap.Uint("from_version", from),
			zap.Uint("to_version", to),
		)
		return nil
	})
}

// MigrateDown 回滚 steps 个版本，生产环境慎用
func (db *DB) MigrateDown(migrationsDir string, steps int) error {
	return db.withMigrate(migrationsDir, func(m *migrate.Migrate) error {
		from, err := currentVersion(m)
		if err != nil {
			return err
		}
		db.logger.Info("starting migration rollback",
			zap.Uint("current_version", from),
			zap.Int("steps", steps),
		)

		if err := m.Steps(-steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}

		to, _, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("get new version: %w", err)
		}
		db.logger.Info("migration rollback completed",
			zap.Uint("from_version", from),
			zap.Uint("to_version", to),
		)
		return nil
	})
}

// MigrateToVersion 迁移到指定版本
func (db *DB) MigrateToVersion(migrationsDir string, version uint) error {
	return db.withMigrate(migrationsDir, func(m *migrate.Migrate) error {
		from, err := currentVersion(m)
		if err != nil {
			return err
		}
		db.logger.Info("migrating to specific version",
			zap.Uint("current_version", from),
			zap.Uint("target_version", version),
		)

		if err := m.Migrate(version); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				db.logger.Info("already at target version", zap.Uint("version", version))
				return nil
			}
			return fmt.Errorf("migrate to version %d: %w", version, err)
		}
		db.logger.Info("migration to version completed",
			zap.Uint("from_version", from),
			zap.Uint("to_version", version),
		)
		return nil
	})
}

// ForceMigrationVersion 强制设置版本以清除脏状态，只用于人工修复
func (db *DB) ForceMigrationVersion(migrationsDir string, version uint) error {
	return db.withMigrate(migrationsDir, func(m *migrate.Migrate) error {
		db.logger.Info("forcing migration version", zap.Uint("version", version))
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("force migration version: %w", err)
		}
		db.logger.Info("migration version forced successfully", zap.Uint("version", version))
		return nil
	})
}

// Version 返回当前迁移版本
func (db *DB) Version(migrationsDir string) (version uint, dirty bool, err error) {
	err = db.withMigrate(migrationsDir, func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			return fmt.Errorf("get version: %w", verr)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}
