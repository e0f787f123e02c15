package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/nitterpost/internal/model"
)

// FetchServiceInterface はフェッチハンドラーが必要とするインターフェース。
type FetchServiceInterface interface {
	// FetchSubscription は指定購読を今すぐフェッチする。
	FetchSubscription(ctx context.Context, subscriptionID int64, overrides *model.FetchOverrides) *model.FetchResult
	// FetchFeed はURLのフィードを取得する。subがnilの場合は診断モード。
	FetchFeed(ctx context.Context, feedURL string, sub *model.Subscription, cfg model.FetchConfig) *model.FetchResult
}

// FetchHandler は手動フェッチと診断フェッチのHTTPハンドラー。
type FetchHandler struct {
	service FetchServiceInterface
}

// NewFetchHandler はFetchHandlerを生成する。
func NewFetchHandler(service FetchServiceInterface) *FetchHandler {
	return &FetchHandler{service: service}
}

// fetchResultResponse はフェッチ結果のAPIレスポンス。
type fetchResultResponse struct {
	Success       bool               `json:"success"`
	ItemsCount    int                `json:"itemsCount"`
	NewItemsCount int                `json:"newItemsCount"`
	Error         string             `json:"error,omitempty"`
	Items         []feedItemResponse `json:"items,omitempty"`
}

// feedItemResponse はフィードアイテムのAPIレスポンス（診断用の要約形）。
type feedItemResponse struct {
	GUID        string     `json:"guid,omitempty"`
	Link        string     `json:"link,omitempty"`
	Title       string     `json:"title,omitempty"`
	Creator     string     `json:"creator,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// fetchConfigRequest は手動フェッチのボディで受け付けるポリシー上書き。
// 全フィールド任意。nullのフィールドは上書きしない。
type fetchConfigRequest struct {
	MaxItems       *int              `json:"maxItems"`
	TimeoutSeconds *int              `json:"timeoutSeconds"`
	RetryCount     *int              `json:"retryCount"`
	UserAgent      *string           `json:"userAgent"`
	Headers        map[string]string `json:"headers"`
	DedupEnabled   *bool             `json:"dedupEnabled"`
	DedupField     *string           `json:"dedupField"`
}

// fetchRequest は手動フェッチリクエストのボディ。
type fetchRequest struct {
	Config *fetchConfigRequest `json:"config"`
}

// toOverrides はリクエストのポリシー上書きをFetchOverridesに変換する。
func (c *fetchConfigRequest) toOverrides() *model.FetchOverrides {
	if c == nil {
		return nil
	}
	o := &model.FetchOverrides{
		MaxItems:     c.MaxItems,
		RetryCount:   c.RetryCount,
		UserAgent:    c.UserAgent,
		Headers:      c.Headers,
		DedupEnabled: c.DedupEnabled,
	}
	if c.TimeoutSeconds != nil {
		d := time.Duration(*c.TimeoutSeconds) * time.Second
		o.Timeout = &d
	}
	if c.DedupField != nil {
		f := model.DedupField(*c.DedupField)
		o.DedupField = &f
	}
	return o
}

// FetchSubscription は指定購読の手動フェッチを実行する。
// ボディにポリシーの部分上書きを指定できる（ボディなしも可）。
// フェッチ失敗は500、成功は200で同じ結果フォーマットを返す。
// POST /api/subscriptions/{id}/fetch
func (h *FetchHandler) FetchSubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}

	// ボディは任意。空または解析不能な場合は上書きなしとして扱う
	var req fetchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	result := h.service.FetchSubscription(r.Context(), subscriptionID, req.Config.toOverrides())

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(toFetchResultResponse(result, false))
}

// TestFeed はURLのフィードを取得して内容を返す診断エンドポイント。
// ストレージには一切書き込まない。
// GET /api/test-feed?url=...
func (h *FetchHandler) TestFeed(w http.ResponseWriter, r *http.Request) {
	feedURL := r.URL.Query().Get("url")
	if feedURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("urlクエリパラメータが必要です"))
		return
	}

	result := h.service.FetchFeed(r.Context(), feedURL, nil, model.DefaultFetchConfig())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toFetchResultResponse(result, true))
}

// diagnosticItemLimit は診断レスポンスに含めるアイテム要約の最大数。
const diagnosticItemLimit = 3

// toFetchResultResponse はFetchResultをAPIレスポンスに変換する。
// includeItemsがtrueの場合のみアイテムの要約を先頭数件含める。
func toFetchResultResponse(result *model.FetchResult, includeItems bool) fetchResultResponse {
	resp := fetchResultResponse{
		Success:       result.Success,
		ItemsCount:    result.ItemsCount,
		NewItemsCount: result.NewItemsCount,
		Error:         result.Error,
	}
	if includeItems {
		limit := len(result.Items)
		if limit > diagnosticItemLimit {
			limit = diagnosticItemLimit
		}
		resp.Items = make([]feedItemResponse, 0, limit)
		for i := 0; i < limit; i++ {
			item := &result.Items[i]
			resp.Items = append(resp.Items, feedItemResponse{
				GUID:        item.GUID,
				Link:        item.Link,
				Title:       item.Title,
				Creator:     item.Creator,
				PublishedAt: item.ISODate,
			})
		}
	}
	return resp
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCron, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodePersistenceFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
