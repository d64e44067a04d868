package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/api"
	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/config"
	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/limiter"
	"github.com/MorseWayne/caseshop/internal/metrics"
	"github.com/MorseWayne/caseshop/internal/repo"
	"github.com/MorseWayne/caseshop/internal/resp"
	"github.com/MorseWayne/caseshop/internal/service"
)

type fixture struct {
	handler http.Handler
	tokens  service.TokenService
}

func newFixture(t *testing.T, withLimiter bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	cfg := &config.Config{
		App:     config.AppConfig{Env: "test", Version: "test"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	policy := service.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	store := repo.NewMemoryStore(time.Second)
	ledger := service.NewStockLedger(store, nil, &service.LedgerConfig{Retry: policy, DefaultReorderLevel: 10}, nil, logger)
	lifecycle := service.NewOrderLifecycle(store, ledger, nil, policy, nil, logger)
	orders := service.NewOrderQuery(store.Orders())
	checkout := service.NewCheckoutService(store, ledger, nil, nil, policy, nil, logger)
	tokens := service.NewTokenService(config.JWTConfig{Secret: "router-secret", Issuer: "test-auth"}, logger)

	deps := &Dependencies{
		StockHandler:      api.NewStockHandler(ledger, logger),
		OrderAdminHandler: api.NewOrderAdminHandler(lifecycle, orders, logger),
		CheckoutHandler:   api.NewCheckoutHandler(checkout, logger),
		OrderHandler:      api.NewOrderHandler(orders, lifecycle, logger),
		TokenService:      tokens,
		IdempotencyCache:  cache.NewMemoryCache(),
		Metrics:           metrics.New(),
	}
	if withLimiter {
		l, err := limiter.NewMemoryTokenBucket(&limiter.Config{Rate: 1, Burst: 2, Window: time.Hour})
		if err != nil {
			t.Fatalf("NewMemoryTokenBucket() error = %v", err)
		}
		deps.Limiter = l
	}

	return &fixture{handler: New(cfg, deps, logger).Setup(), tokens: tokens}
}

func (f *fixture) token(t *testing.T, userID int64, role domain.UserRole) string {
	t.Helper()
	tok, err := f.tokens.IssueAccessToken(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	return tok
}

func (f *fixture) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Code int               `json:"code"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Code != 0 || body.Data["status"] != "ok" || body.Data["version"] != "test" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRoutes_Authorization(t *testing.T) {
	f := newFixture(t, false)
	admin := f.token(t, 1, domain.UserRoleAdmin)
	customer := f.token(t, 2, domain.UserRoleUser)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"admin stock without token", http.MethodGet, "/api/v1/admin/stock", "", http.StatusUnauthorized},
		{"admin stock as customer", http.MethodGet, "/api/v1/admin/stock", customer, http.StatusForbidden},
		{"admin stock as admin", http.MethodGet, "/api/v1/admin/stock", admin, http.StatusOK},
		{"low stock as admin", http.MethodGet, "/api/v1/admin/stock/low", admin, http.StatusOK},
		{"my orders without token", http.MethodGet, "/api/v1/orders", "", http.StatusUnauthorized},
		{"my orders", http.MethodGet, "/api/v1/orders", customer, http.StatusOK},
		{"unknown route", http.MethodGet, "/api/v1/nope", customer, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/orders", customer, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(tt.method, tt.path, tt.token, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRoutes_CheckoutFlow(t *testing.T) {
	f := newFixture(t, false)
	admin := f.token(t, 1, domain.UserRoleAdmin)
	customer := f.token(t, 2, domain.UserRoleUser)

	if w := f.do(http.MethodPut, "/api/v1/admin/stock/10", admin, `{"quantity":5}`); w.Code != http.StatusOK {
		t.Fatalf("set stock = %d, body %s", w.Code, w.Body.String())
	}

	body := `{"items":[{"product_id":10,"quantity":2,"price":19.9}],"shipping_address":"1 Main St","shipping_phone":"555"}`
	w := f.do(http.MethodPost, "/api/v1/checkout", customer, body, "Idempotency-Key", "abc")
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout = %d, body %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/api/v1/checkout", customer, body, "Idempotency-Key", "abc"); w.Code != http.StatusConflict {
		t.Errorf("duplicate checkout = %d, want 409", w.Code)
	}

	w = f.do(http.MethodGet, "/api/v1/admin/stock/10", admin, "")
	if !strings.Contains(w.Body.String(), `"reserved":2`) || !strings.Contains(w.Body.String(), `"available":3`) {
		t.Errorf("stock after checkout = %s", w.Body.String())
	}

	// 未配置购物车时从购物车结算属于内部错误
	w = f.do(http.MethodPost, "/api/v1/checkout/cart", customer, `{"shipping_address":"a","shipping_phone":"b"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("cart checkout without collaborator = %d, want 500", w.Code)
	}
}

func TestRoutes_CheckoutRateLimit(t *testing.T) {
	f := newFixture(t, true)
	customer := f.token(t, 3, domain.UserRoleUser)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := f.do(http.MethodPost, "/api/v1/checkout", customer, `{"items":[]}`)
		codes = append(codes, w.Code)
	}
	// 前两次通过限流后因参数错误返回 400，第三次被限流
	want := []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d = %d, want %d", i+1, codes[i], want[i])
		}
	}

	// 其他用户有独立的桶
	other := f.token(t, 4, domain.UserRoleUser)
	if w := f.do(http.MethodPost, "/api/v1/checkout", other, `{"items":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("other user = %d, want 400", w.Code)
	}

	var body resp.Response
	w := f.do(http.MethodPost, "/api/v1/checkout", customer, `{"items":[]}`)
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != resp.CodeTooManyRequests {
		t.Errorf("code = %d, want %d", body.Code, resp.CodeTooManyRequests)
	}
}

func TestRoutes_Metrics(t *testing.T) {
	f := newFixture(t, false)
	f.do(http.MethodGet, "/healthz", "", "")

	w := f.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `caseshop_http_requests_total{code="200",method="GET",route="/healthz"} 1`) {
		t.Errorf("metrics output missing healthz counter:\n%s", w.Body.String())
	}
}
