package fetch

import (
	"errors"
	"time"

	"github.com/hitoshi/nitterpost/internal/model"
)

const (
	// retryInitialBackoff は取得再試行の初回遅延。
	retryInitialBackoff = 1 * time.Second
	// retryMaxBackoff は取得再試行の最大遅延。
	retryMaxBackoff = 30 * time.Second
)

// CalculateBackoff は再試行回数に基づいて指数バックオフ遅延を計算する。
// 初回1秒、2倍ずつ増加、最大30秒。attemptは0始まり。
func CalculateBackoff(attempt int) time.Duration {
	delay := retryInitialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > retryMaxBackoff {
			return retryMaxBackoff
		}
	}
	return delay
}

// IsRetryable はエラーが再試行に値するかを判定する。
// 再試行の対象はトランスポートエラー（FETCH_FAILED）のみ。
// パース失敗は同じペイロードに対して再試行しても結果が変わらないため対象外。
func IsRetryable(err error) bool {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == model.ErrCodeFetchFailed
	}
	return false
}
