package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// querier 由 *sql.DB 与 *sql.Tx 共同实现
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mysqlStore 基于 MySQL 的 Store 实现，行锁使用 SELECT ... FOR UPDATE
type mysqlStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 存储
func NewMySQLStore(db *sql.DB) Store {
	return &mysqlStore{db: db}
}

func (s *mysqlStore) Stocks() StockRepository {
	return &stockRepo{q: s.db}
}

func (s *mysqlStore) Orders() OrderRepository {
	return &orderRepo{q: s.db}
}

// InTx 开启事务执行 fn，出错或 panic 时回滚
func (s *mysqlStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&mysqlTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) Stocks() StockTx {
	return &stockRepo{q: t.tx}
}

func (t *mysqlTx) Orders() OrderTx {
	return &orderRepo{q: t.tx}
}
