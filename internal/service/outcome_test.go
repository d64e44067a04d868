package service

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MorseWayne/caseshop/internal/domain"
)

func TestLogOutcome_Levels(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{"insufficient stock", &domain.InsufficientStockError{ProductID: 1, Available: 0, Requested: 1}, zapcore.WarnLevel},
		{"not found", domain.NotFoundf("order 1 not found"), zapcore.WarnLevel},
		{"invalid transition", &domain.InvalidTransitionError{From: domain.OrderStatusDelivered, To: domain.OrderStatusCancelled}, zapcore.WarnLevel},
		{"transient conflict", domain.ErrTransientConflict, zapcore.WarnLevel},
		{"storage failure", errors.New("connection refused"), zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			logOutcome(zap.New(core), "operation failed", tt.err)

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("logged %d entries, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
		})
	}
}
