package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含み、ハンドラーとログの両方で使用される。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, storage
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCron          = "INVALID_CRON"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeFetchFailed          = "FETCH_FAILED"
	ErrCodeParseFailed          = "PARSE_FAILED"
	ErrCodePersistenceFailed    = "PERSISTENCE_FAILED"
)

// NewInvalidCronError はcron式のバリデーションエラーを生成する。
func NewInvalidCronError(expr string, reason error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCron,
		Message:  fmt.Sprintf("無効なcron式です: %q (%v)", expr, reason),
		Category: "validation",
		Action:   "標準5フィールド形式（先頭に秒フィールドを追加した6フィールドも可）で指定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる正しいURLを指定してください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID int64) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %d", subscriptionID),
		Category: "feed",
		Action:   "購読IDを確認してください。",
	}
}

// NewFetchFailedError はフィード取得失敗（トランスポートエラー/タイムアウト）を生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はフィード解析失敗エラーを生成する。
func NewParseFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("フィードの解析に失敗しました: %s", reason),
		Category: "feed",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// NewPersistenceError はストレージ書き込み失敗エラーを生成する。
func NewPersistenceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  fmt.Sprintf("データの保存に失敗しました: %s", reason),
		Category: "storage",
		Action:   "データベース接続を確認してください。",
	}
}
