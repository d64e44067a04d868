package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/config"
	mw "github.com/MorseWayne/caseshop/internal/middleware"
)

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Env: "test", Version: "test", RequestTimeout: time.Second},
		Storage: config.StorageConfig{Driver: "memory"},
		Cache:   config.CacheConfig{Enabled: true, Type: "memory", TTL: time.Minute},
		Ledger: config.LedgerConfig{
			MaxAttempts:         3,
			RetryBackoff:        time.Millisecond,
			LockWaitTimeout:     time.Second,
			DefaultReorderLevel: 10,
		},
		JWT:     config.JWTConfig{Secret: "test-secret", Issuer: "test-auth"},
		Limiter: config.LimiterConfig{Enabled: true, Rate: 10, Burst: 10, Window: time.Second},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestBuildHandler_Healthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &app{cfg: testConfig(), logger: zap.NewNop()}
	handler, err := a.buildHandler()
	if err != nil {
		t.Fatalf("buildHandler() error = %v", err)
	}
	defer a.close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(mw.HeaderRequestID, "test-req")
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var body struct {
		Code      int               `json:"code"`
		Data      map[string]string `json:"data"`
		RequestID string            `json:"request_id"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Code != 0 || body.Data["status"] != "ok" || body.RequestID != "test-req" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if rw.Header().Get(mw.HeaderRequestID) != "test-req" {
		t.Errorf("request id header = %q", rw.Header().Get(mw.HeaderRequestID))
	}
}

func TestBuildHandler_RequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &app{cfg: testConfig(), logger: zap.NewNop()}
	handler, err := a.buildHandler()
	if err != nil {
		t.Fatalf("buildHandler() error = %v", err)
	}
	defer a.close()

	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stock", nil))
	if rw.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rw.Code)
	}
}
