package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MorseWayne/caseshop/internal/database"
	"github.com/MorseWayne/caseshop/internal/domain"
)

const orderColumns = `
	id, order_number, user_id, status, total_amount, shipping_address, shipping_phone,
	payment_method, payment_status, cancellation_reason, return_reason,
	shipping_date, delivery_date, created_at, updated_at`

// orderRepo 同时实现 OrderRepository 与 OrderTx
type orderRepo struct {
	q querier
}

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o            domain.Order
		cancelReason sql.NullString
		returnReason sql.NullString
		shippingDate sql.NullTime
		deliveryDate sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Status,
		&o.TotalAmount,
		&o.ShippingAddress,
		&o.ShippingPhone,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&cancelReason,
		&returnReason,
		&shippingDate,
		&deliveryDate,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.CancellationReason = cancelReason.String
	o.ReturnReason = returnReason.String
	if shippingDate.Valid {
		t := shippingDate.Time
		o.ShippingDate = &t
	}
	if deliveryDate.Valid {
		t := deliveryDate.Time
		o.DeliveryDate = &t
	}
	o.Items = []*domain.OrderItem{}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (r *orderRepo) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// loadItems 批量加载订单项
func (r *orderRepo) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*domain.Order, len(orders))
	args := make([]any, len(orders))
	for i, o := range orders {
		byID[o.ID] = o
		args[i] = o.ID
	}
	placeholders := strings.Repeat("?,", len(orders)-1) + "?"
	query := fmt.Sprintf(`
		SELECT id, order_id, product_id, design_id, quantity, price, subtotal
		FROM order_items
		WHERE order_id IN (%s)
		ORDER BY order_id, id
	`, placeholders)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item      domain.OrderItem
			productID sql.NullInt64
			designID  sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &productID, &designID, &item.Quantity, &item.Price, &item.Subtotal); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if productID.Valid {
			v := productID.Int64
			item.ProductID = &v
		}
		if designID.Valid {
			v := designID.Int64
			item.DesignID = &v
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, &item)
		}
	}
	return rows.Err()
}

func (r *orderRepo) list(ctx context.Context, where string, args ...any) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	orders := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetByID 快照读取订单
func (r *orderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order by id: %w", err)
	}
	return order, nil
}

// GetByNumber 按订单号读取订单
func (r *orderRepo) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = ?`, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get order by number: %w", err)
	}
	return order, nil
}

// ExistsByNumber 订单号是否已被占用
func (r *orderRepo) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = ?)`, orderNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check order number: %w", err)
	}
	return exists, nil
}

// ListByUser 列出用户的订单
func (r *orderRepo) ListByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	orders, err := r.list(ctx, `WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by user: %w", err)
	}
	return orders, nil
}

// ListByStatus 按状态列出订单
func (r *orderRepo) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	orders, err := r.list(ctx, `WHERE status = ?`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by status: %w", err)
	}
	return orders, nil
}

// List 列出全部订单
func (r *orderRepo) List(ctx context.Context) ([]*domain.Order, error) {
	orders, err := r.list(ctx, ``)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetForUpdate 锁定订单行并读取
func (r *orderRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return order, nil
}

// Create 写入订单头与订单项
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	query := `
		INSERT INTO orders (order_number, user_id, status, total_amount, shipping_address, shipping_phone,
			payment_method, payment_status, cancellation_reason, return_reason, shipping_date, delivery_date,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.q.ExecContext(ctx, query,
		order.OrderNumber,
		order.UserID,
		order.Status,
		order.TotalAmount,
		order.ShippingAddress,
		order.ShippingPhone,
		order.PaymentMethod,
		order.PaymentStatus,
		nullString(order.CancellationReason),
		nullString(order.ReturnReason),
		nullTime(order.ShippingDate),
		nullTime(order.DeliveryDate),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if database.IsDuplicateEntry(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	order.ID = id

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, design_id, quantity, price, subtotal)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, item := range order.Items {
		item.OrderID = id
		res, err := r.q.ExecContext(ctx, itemQuery,
			item.OrderID,
			nullInt64(item.ProductID),
			nullInt64(item.DesignID),
			item.Quantity,
			item.Price,
			item.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item.ID = itemID
	}
	return nil
}

// UpdateStatus 写回状态迁移涉及的字段
func (r *orderRepo) UpdateStatus(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET status = ?, payment_status = ?, cancellation_reason = ?, return_reason = ?,
			shipping_date = ?, delivery_date = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.q.ExecContext(ctx, query,
		order.Status,
		order.PaymentStatus,
		nullString(order.CancellationReason),
		nullString(order.ReturnReason),
		nullTime(order.ShippingDate),
		nullTime(order.DeliveryDate),
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}
