package fetch

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/nitterpost/internal/model"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // 32秒は上限でキャップされる
		{10, 30 * time.Second}, // 以降も上限のまま
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"トランスポートエラーは再試行可能", model.NewFetchFailedError("timeout"), true},
		{"パース失敗は再試行しない", model.NewParseFailedError("bad XML"), false},
		{"URL検証エラーは再試行しない", model.NewInvalidURLError("private IP"), false},
		{"永続化エラーは再試行しない", model.NewPersistenceError("insert failed"), false},
		{"APIError以外のエラーは再試行しない", errors.New("plain error"), false},
		{"nilは再試行しない", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}
