package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/repo"
)

func TestStockLedger_SetTotal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)

	rec, err := ledger.SetTotal(ctx, 1, 20)
	if err != nil {
		t.Fatalf("SetTotal() create error = %v", err)
	}
	if rec.Total != 20 || rec.Reserved != 0 || rec.ReorderLevel != 10 {
		t.Errorf("unexpected new record: %+v", rec)
	}

	if _, err := ledger.Reserve(ctx, 1, 8); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	tests := []struct {
		name      string
		quantity  int
		wantErr   error
		wantTotal int
	}{
		{"raise", 30, nil, 30},
		{"equal to reserved", 8, nil, 8},
		{"below reserved", 7, domain.ErrBadRequest, 8},
		{"negative", -1, domain.ErrBadRequest, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.SetTotal(ctx, 1, tt.quantity)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetTotal(%d) error = %v, want %v", tt.quantity, err, tt.wantErr)
			}
			rec := mustStock(t, store, 1)
			if rec.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", rec.Total, tt.wantTotal)
			}
			if rec.Reserved != 8 {
				t.Errorf("reserved changed to %d", rec.Reserved)
			}
		})
	}
}

func TestStockLedger_Reserve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	seedStock(t, store, 1, 10, 0)

	rec, err := ledger.Reserve(ctx, 1, 4)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if rec.Available() != 6 {
		t.Errorf("available = %d, want 6", rec.Available())
	}

	_, err = ledger.Reserve(ctx, 1, 7)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Available != 6 || insufficient.Requested != 7 {
		t.Errorf("unexpected error detail: %+v", insufficient)
	}
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("insufficient stock should classify as bad request")
	}
	if got := mustStock(t, store, 1).Reserved; got != 4 {
		t.Errorf("failed reserve changed reserved to %d", got)
	}

	if _, err := ledger.Reserve(ctx, 99, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Reserve() on missing record error = %v, want not found", err)
	}
	if _, err := ledger.Reserve(ctx, 1, 0); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("Reserve(0) error = %v, want bad request", err)
	}
}

func TestStockLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	seedStock(t, store, 1, 50, 0)

	const workers = 100
	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int64
		insufficient atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, 1, 1)
			var stockErr *domain.InsufficientStockError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &stockErr):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 50 {
		t.Errorf("succeeded = %d, want 50", succeeded.Load())
	}
	if insufficient.Load() != 50 {
		t.Errorf("insufficient = %d, want 50", insufficient.Load())
	}
	rec := mustStock(t, store, 1)
	if rec.Reserved != 50 || rec.Available() != 0 {
		t.Errorf("final record = %+v", rec)
	}
}

func TestStockLedger_ReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	seedStock(t, store, 1, 10, 3)

	rec, err := ledger.Release(ctx, 1, 5)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if rec.Reserved != 0 || rec.Total != 10 {
		t.Errorf("record after over-release = %+v", rec)
	}
}

func TestStockLedger_Deduct(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		total        int
		reserved     int
		quantity     int
		wantErr      bool
		wantTotal    int
		wantReserved int
	}{
		{"fully reserved", 10, 4, 4, false, 6, 0},
		{"partially reserved", 10, 2, 4, false, 6, 0},
		{"unreserved from available", 10, 0, 3, false, 7, 0},
		{"exceeds stock", 5, 1, 7, true, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore()
			ledger := newTestLedger(store)
			seedStock(t, store, 1, tt.total, tt.reserved)

			_, err := ledger.Deduct(ctx, 1, tt.quantity)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Deduct() error = %v, wantErr %v", err, tt.wantErr)
			}
			rec := mustStock(t, store, 1)
			if rec.Total != tt.wantTotal || rec.Reserved != tt.wantReserved {
				t.Errorf("record = total %d reserved %d, want total %d reserved %d",
					rec.Total, rec.Reserved, tt.wantTotal, tt.wantReserved)
			}
		})
	}
}

func TestStockLedger_ReserveThenDeductKeepsAvailable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	seedStock(t, store, 1, 10, 0)

	if _, err := ledger.Reserve(ctx, 1, 3); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	before, _ := ledger.GetAvailable(ctx, 1)
	if _, err := ledger.Deduct(ctx, 1, 3); err != nil {
		t.Fatalf("Deduct() error = %v", err)
	}
	after, _ := ledger.GetAvailable(ctx, 1)
	if before != 7 || after != 7 {
		t.Errorf("available before=%d after=%d, want 7 and 7", before, after)
	}
}

func TestStockLedger_Remove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	seedStock(t, store, 1, 10, 2)
	seedStock(t, store, 2, 10, 0)

	if err := ledger.Remove(ctx, 1); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Remove() with reservations error = %v, want conflict", err)
	}
	if err := ledger.Remove(ctx, 2); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := ledger.Get(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() after remove error = %v, want not found", err)
	}
	if err := ledger.Remove(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Remove() error = %v, want not found", err)
	}
}

func TestStockLedger_Queries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ledger := newTestLedger(store)
	seedStock(t, store, 1, 100, 0)
	seedStock(t, store, 2, 12, 5)
	seedStock(t, store, 3, 3, 0)

	ok, err := ledger.CheckAvailability(ctx, 2, 7)
	if err != nil || !ok {
		t.Errorf("CheckAvailability(2, 7) = %v, %v", ok, err)
	}
	ok, _ = ledger.CheckAvailability(ctx, 2, 8)
	if ok {
		t.Errorf("CheckAvailability(2, 8) should be false")
	}
	ok, err = ledger.CheckAvailability(ctx, 404, 1)
	if err != nil || ok {
		t.Errorf("CheckAvailability on missing record = %v, %v", ok, err)
	}
	if _, err := ledger.GetAvailable(ctx, 404); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetAvailable on missing record error = %v", err)
	}

	all, err := ledger.List(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("List() = %d records, err %v", len(all), err)
	}

	low, err := ledger.ListLowStock(ctx)
	if err != nil {
		t.Fatalf("ListLowStock() error = %v", err)
	}
	if len(low) != 2 {
		t.Fatalf("ListLowStock() returned %d reports, want 2", len(low))
	}
	if low[0].ProductID != 3 || low[0].Shortage != 7 {
		t.Errorf("first report = %+v, want product 3 shortage 7", low[0])
	}
	if low[1].ProductID != 2 || low[1].Available != 7 {
		t.Errorf("second report = %+v, want product 2 available 7", low[1])
	}
}

func TestStockLedger_RetriesLockConflicts(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore()
	seedStock(t, mem, 1, 10, 0)

	tests := []struct {
		name      string
		failures  int
		wantErr   error
		wantCalls int
	}{
		{"succeeds on third attempt", 2, nil, 3},
		{"exhausted", 5, domain.ErrTransientConflict, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &conflictStore{Store: mem, failures: tt.failures}
			ledger := NewStockLedger(store, nil, &LedgerConfig{Retry: fastRetry, DefaultReorderLevel: 10}, nil, zap.NewNop())

			_, err := ledger.Reserve(ctx, 1, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Reserve() error = %v, want %v", err, tt.wantErr)
			}
			if store.calls != tt.wantCalls {
				t.Errorf("attempts = %d, want %d", store.calls, tt.wantCalls)
			}
			if tt.wantErr != nil && !repo.IsLockConflict(err) {
				t.Errorf("exhausted error should wrap the lock conflict")
			}
		})
	}
}

type recordingInvalidator struct {
	repo.StockRepository
	mu  sync.Mutex
	ids []int64
}

func (r *recordingInvalidator) Invalidate(_ context.Context, productIDs ...int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, productIDs...)
	return nil
}

func TestStockLedger_InvalidatesReaderAfterWrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	reader := &recordingInvalidator{StockRepository: store.Stocks()}
	ledger := NewStockLedger(store, reader, nil, nil, zap.NewNop())

	if _, err := ledger.SetTotal(ctx, 5, 10); err != nil {
		t.Fatalf("SetTotal() error = %v", err)
	}
	if _, err := ledger.Reserve(ctx, 5, 20); err == nil {
		t.Fatalf("expected insufficient stock")
	}
	if len(reader.ids) != 1 || reader.ids[0] != 5 {
		t.Errorf("invalidated ids = %v, want [5]", reader.ids)
	}
}
