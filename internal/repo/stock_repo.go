package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MorseWayne/caseshop/internal/database"
	"github.com/MorseWayne/caseshop/internal/domain"
)

const stockColumns = `product_id, total, reserved, reorder_level, created_at, updated_at`

// stockRepo 同时实现 StockRepository 与 StockTx，取决于底层是连接池还是事务
type stockRepo struct {
	q querier
}

func scanStock(row interface{ Scan(...any) error }) (*domain.StockRecord, error) {
	rec := &domain.StockRecord{}
	err := row.Scan(
		&rec.ProductID,
		&rec.Total,
		&rec.Reserved,
		&rec.ReorderLevel,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *stockRepo) getOne(ctx context.Context, query string, productID int64) (*domain.StockRecord, error) {
	rec, err := scanStock(r.q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByProductID 快照读取库存记录
func (r *stockRepo) GetByProductID(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	query := `SELECT ` + stockColumns + ` FROM inventory WHERE product_id = ?`
	rec, err := r.getOne(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock record by product id: %w", err)
	}
	return rec, nil
}

// GetForUpdate 加排他行锁读取库存记录
func (r *stockRepo) GetForUpdate(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	query := `SELECT ` + stockColumns + ` FROM inventory WHERE product_id = ? FOR UPDATE`
	rec, err := r.getOne(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock record: %w", err)
	}
	return rec, nil
}

func (r *stockRepo) list(ctx context.Context, query string) ([]*domain.StockRecord, error) {
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.StockRecord{}
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// List 按商品ID升序列出全部库存记录
func (r *stockRepo) List(ctx context.Context) ([]*domain.StockRecord, error) {
	records, err := r.list(ctx, `SELECT `+stockColumns+` FROM inventory ORDER BY product_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock records: %w", err)
	}
	return records, nil
}

// ListLowStock 列出可售数量低于补货线的记录，缺口最大的在前
func (r *stockRepo) ListLowStock(ctx context.Context) ([]*domain.StockRecord, error) {
	query := `
		SELECT ` + stockColumns + `
		FROM inventory
		WHERE (total - reserved) < reorder_level
		ORDER BY (total - reserved) ASC, product_id ASC
	`
	records, err := r.list(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock records: %w", err)
	}
	return records, nil
}

// Insert 新建库存记录。并发插入同一商品时返回 ErrLockConflict，重试后会读到已存在的行。
func (r *stockRepo) Insert(ctx context.Context, record *domain.StockRecord) error {
	now := time.Now()
	query := `
		INSERT INTO inventory (product_id, total, reserved, reorder_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, query,
		record.ProductID,
		record.Total,
		record.Reserved,
		record.ReorderLevel,
		now,
		now,
	)
	if database.IsDuplicateEntry(err) {
		return fmt.Errorf("%w: stock record for product %d created concurrently", ErrLockConflict, record.ProductID)
	}
	if err != nil {
		return fmt.Errorf("failed to create stock record: %w", err)
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

// Update 写回 total、reserved 与补货线
func (r *stockRepo) Update(ctx context.Context, record *domain.StockRecord) error {
	now := time.Now()
	query := `
		UPDATE inventory
		SET total = ?, reserved = ?, reorder_level = ?, updated_at = ?
		WHERE product_id = ?
	`
	result, err := r.q.ExecContext(ctx, query,
		record.Total,
		record.Reserved,
		record.ReorderLevel,
		now,
		record.ProductID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("stock record for product %d not found", record.ProductID)
	}
	record.UpdatedAt = now
	return nil
}

// Delete 删除库存记录
func (r *stockRepo) Delete(ctx context.Context, productID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM inventory WHERE product_id = ?`, productID)
	if err != nil {
		return fmt.Errorf("failed to delete stock record: %w", err)
	}
	return nil
}
