package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
)

func validRequest(items ...domain.CheckoutItem) *domain.CheckoutRequest {
	return &domain.CheckoutRequest{
		UserID:          42,
		Items:           items,
		ShippingAddress: "221B Baker Street",
		ShippingPhone:   "+44 20 7946 0000",
	}
}

func TestCheckout_CreatesPendingOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	events := &mockPublisher{}
	svc := NewCheckoutService(store, ledger, nil, events, fastRetry, nil, zap.NewNop())
	seedStock(t, store, 1, 10, 0)

	order, err := svc.Checkout(ctx, validRequest(
		domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 2, Price: decimal.RequireFromString("12.50")},
		domain.CheckoutItem{DesignID: int64Ptr(9), Quantity: 1, Price: decimal.RequireFromString("30.00")},
	))
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	if order.ID == 0 {
		t.Errorf("order ID not assigned")
	}
	if !regexp.MustCompile(`^ORD\d+$`).MatchString(order.OrderNumber) {
		t.Errorf("order number %q has unexpected format", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("status = %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PaymentMethod != domain.DefaultPaymentMethod {
		t.Errorf("payment method = %q, want COD", order.PaymentMethod)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(55)) {
		t.Errorf("total = %s, want 55.00", order.TotalAmount)
	}
	if len(order.Items) != 2 || !order.Items[0].Subtotal.Equal(decimal.NewFromInt(25)) {
		t.Errorf("unexpected items: %+v", order.Items)
	}
	if rec := mustStock(t, store, 1); rec.Reserved != 2 {
		t.Errorf("reserved = %d, want 2", rec.Reserved)
	}
	if len(events.created) != 1 {
		t.Errorf("created events = %d, want 1", len(events.created))
	}
}

func TestCheckout_Validation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	svc := NewCheckoutService(store, newTestLedger(store), nil, nil, fastRetry, nil, zap.NewNop())
	seedStock(t, store, 1, 10, 0)

	item := domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 1, Price: decimal.RequireFromString("1.00")}
	tests := []struct {
		name   string
		mutate func(r *domain.CheckoutRequest)
	}{
		{"no items", func(r *domain.CheckoutRequest) { r.Items = nil }},
		{"no user", func(r *domain.CheckoutRequest) { r.UserID = 0 }},
		{"blank address", func(r *domain.CheckoutRequest) { r.ShippingAddress = "  " }},
		{"blank phone", func(r *domain.CheckoutRequest) { r.ShippingPhone = "" }},
		{"zero quantity", func(r *domain.CheckoutRequest) { r.Items[0].Quantity = 0 }},
		{"both product and design", func(r *domain.CheckoutRequest) { r.Items[0].DesignID = int64Ptr(3) }},
		{"free order", func(r *domain.CheckoutRequest) { r.Items[0].Price = decimal.Zero }},
		{"subtotal beyond amount range", func(r *domain.CheckoutRequest) {
			r.Items[0] = domain.CheckoutItem{DesignID: int64Ptr(1), Quantity: 5, Price: decimal.RequireFromString("46116860184273879.05")}
		}},
		{"price with sub-cent digits", func(r *domain.CheckoutRequest) { r.Items[0].Price = decimal.RequireFromString("0.999") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(item)
			tt.mutate(req)
			if _, err := svc.Checkout(ctx, req); !errors.Is(err, domain.ErrBadRequest) {
				t.Errorf("Checkout() error = %v, want bad request", err)
			}
			if rec := mustStock(t, store, 1); rec.Reserved != 0 {
				t.Errorf("rejected checkout reserved %d units", rec.Reserved)
			}
		})
	}
}

func TestCheckout_RollsBackOnInsufficientStock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	svc := NewCheckoutService(store, ledger, nil, nil, fastRetry, nil, zap.NewNop())
	seedStock(t, store, 1, 3, 0)
	seedStock(t, store, 2, 1, 0)

	_, err := svc.Checkout(ctx, validRequest(
		domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 3, Price: decimal.RequireFromString("10.00")},
		domain.CheckoutItem{ProductID: int64Ptr(2), Quantity: 2, Price: decimal.RequireFromString("5.00")},
	))
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Checkout() error = %v, want InsufficientStockError", err)
	}
	if insufficient.ProductID != 2 {
		t.Errorf("failing product = %d, want 2", insufficient.ProductID)
	}

	for _, id := range []int64{1, 2} {
		if rec := mustStock(t, store, id); rec.Reserved != 0 {
			t.Errorf("product %d reserved = %d after rollback, want 0", id, rec.Reserved)
		}
	}
	if rec := mustStock(t, store, 1); rec.Available() != 3 {
		t.Errorf("product 1 available = %d after rollback, want 3", rec.Available())
	}
	orders, _ := store.Orders().List(ctx)
	if len(orders) != 0 {
		t.Errorf("orders created = %d, want 0", len(orders))
	}
}

// releaseFailingLedger Release 总是失败
type releaseFailingLedger struct {
	StockLedger
	err error
}

func (l *releaseFailingLedger) Release(context.Context, int64, int) (*domain.StockRecord, error) {
	return nil, l.err
}

func TestCheckout_ReportsFailedRollback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	releaseErr := errors.New("storage unavailable")
	ledger := &releaseFailingLedger{StockLedger: newTestLedger(store), err: releaseErr}
	svc := NewCheckoutService(store, ledger, nil, nil, fastRetry, nil, zap.NewNop())
	seedStock(t, store, 1, 3, 0)
	seedStock(t, store, 2, 1, 0)

	_, err := svc.Checkout(ctx, validRequest(
		domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 3, Price: decimal.RequireFromString("10.00")},
		domain.CheckoutItem{ProductID: int64Ptr(2), Quantity: 2, Price: decimal.RequireFromString("5.00")},
	))
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Errorf("Checkout() error = %v, want InsufficientStockError", err)
	}
	if !errors.Is(err, releaseErr) {
		t.Errorf("Checkout() error = %v, want the rollback failure attached", err)
	}
}

func TestCheckout_RollsBackWhenOrderInsertFails(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore()
	seedStock(t, mem, 1, 10, 0)
	store := &failingOrderStore{Store: mem, err: errors.New("disk full")}
	ledger := newTestLedger(store)
	svc := NewCheckoutService(store, ledger, nil, nil, fastRetry, nil, zap.NewNop())

	_, err := svc.Checkout(ctx, validRequest(domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 4, Price: decimal.RequireFromString("1.00")}))
	if err == nil {
		t.Fatal("expected error")
	}
	if rec := mustStock(t, mem, 1); rec.Reserved != 0 {
		t.Errorf("reserved = %d after failed insert, want 0", rec.Reserved)
	}
}

func TestCheckout_DesignOnlyOrderSkipsLedger(t *testing.T) {
	store := newTestStore()
	svc := NewCheckoutService(store, newTestLedger(store), nil, nil, fastRetry, nil, zap.NewNop())

	order, err := svc.Checkout(context.Background(), validRequest(
		domain.CheckoutItem{DesignID: int64Ptr(77), Quantity: 5, Price: decimal.RequireFromString("20.00")},
	))
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if order.Items[0].IsStocked() {
		t.Errorf("design item should not be stocked")
	}
}

func TestCheckout_SameMillisecondOrdersGetUniqueNumbers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedStock(t, store, 1, 100, 0)
	svc := NewCheckoutService(store, newTestLedger(store), nil, nil, fastRetry, nil, zap.NewNop()).(*checkoutService)

	fixed := time.UnixMilli(1700000000000)
	svc.numbers.now = func() time.Time { return fixed }

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := svc.Checkout(ctx, validRequest(domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 1, Price: decimal.RequireFromString("1.00")}))
			if err != nil {
				t.Errorf("Checkout() error = %v", err)
				return
			}
			mu.Lock()
			numbers[order.OrderNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(numbers) != n {
		t.Errorf("unique order numbers = %d, want %d", len(numbers), n)
	}
	pattern := regexp.MustCompile(`^ORD1700000000000(-[0-9A-F]{8})?$`)
	for number := range numbers {
		if !pattern.MatchString(number) {
			t.Errorf("order number %q has unexpected format", number)
		}
	}
}

func TestCheckout_OrderNumberExhaustion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedStock(t, store, 1, 10, 0)
	svc := NewCheckoutService(store, newTestLedger(store), nil, nil, fastRetry, nil, zap.NewNop()).(*checkoutService)

	fixed := time.UnixMilli(1700000000000)
	svc.numbers.now = func() time.Time { return fixed }
	svc.numbers.suffix = func() string { return "DEADBEEF" }

	req := func() *domain.CheckoutRequest {
		return validRequest(domain.CheckoutItem{ProductID: int64Ptr(1), Quantity: 1, Price: decimal.RequireFromString("1.00")})
	}
	if _, err := svc.Checkout(ctx, req()); err != nil {
		t.Fatalf("first Checkout() error = %v", err)
	}
	if _, err := svc.Checkout(ctx, req()); err != nil {
		t.Fatalf("second Checkout() error = %v", err)
	}

	_, err := svc.Checkout(ctx, req())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("third Checkout() error = %v, want conflict", err)
	}
	if rec := mustStock(t, store, 1); rec.Reserved != 2 {
		t.Errorf("reserved = %d, want 2 after failed checkout rollback", rec.Reserved)
	}
}

func TestCheckoutFromCart(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedStock(t, store, 1, 10, 0)
	cart := newMockCart()
	svc := NewCheckoutService(store, newTestLedger(store), cart, nil, fastRetry, nil, zap.NewNop())

	req := &domain.CheckoutFromCartRequest{ShippingAddress: "addr", ShippingPhone: "phone", PaymentMethod: "CARD"}

	if _, err := svc.CheckoutFromCart(ctx, 42, req); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("empty cart error = %v, want bad request", err)
	}

	cart.items[42] = []domain.CheckoutItem{{ProductID: int64Ptr(1), Quantity: 2, Price: decimal.RequireFromString("5.00")}}
	order, err := svc.CheckoutFromCart(ctx, 42, req)
	if err != nil {
		t.Fatalf("CheckoutFromCart() error = %v", err)
	}
	if order.UserID != 42 || order.PaymentMethod != "CARD" {
		t.Errorf("order = %+v", order)
	}
	if len(cart.cleared) != 1 || cart.cleared[0] != 42 {
		t.Errorf("cart cleared = %v, want [42]", cart.cleared)
	}

	cart.items[42] = []domain.CheckoutItem{{ProductID: int64Ptr(1), Quantity: 1, Price: decimal.RequireFromString("5.00")}}
	cart.clearErr = errors.New("cart service down")
	if _, err := svc.CheckoutFromCart(ctx, 42, req); err != nil {
		t.Errorf("clear failure should not fail checkout, got %v", err)
	}
}
