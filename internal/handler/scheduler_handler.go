// Package handler は管理APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nitterpost/internal/model"
	"github.com/hitoshi/nitterpost/internal/worker/fetch"
)

// SchedulerServiceInterface はスケジューラハンドラーが必要とするインターフェース。
type SchedulerServiceInterface interface {
	// Initialize は永続化された購読設定から定期ジョブを一括登録する。
	Initialize(ctx context.Context) error
	// GetStatus はスケジューラ全体のスナップショットを返す。
	GetStatus() fetch.SchedulerStatus
	// GetTaskStatus は指定購読のジョブのスナップショットを返す。存在しない場合はnil。
	GetTaskStatus(subscriptionID int64) *fetch.JobStatus
	// UpdateTaskSchedule はジョブのスケジュールを置換する。空文字列は削除。
	UpdateTaskSchedule(subscriptionID int64, cronExpr string) error
}

// SchedulerHandler はスケジューラ管理のHTTPハンドラー。
type SchedulerHandler struct {
	scheduler SchedulerServiceInterface
}

// NewSchedulerHandler はSchedulerHandlerを生成する。
func NewSchedulerHandler(scheduler SchedulerServiceInterface) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

// GetStatus はスケジューラの状態を返す。
// GET /api/scheduler
func (h *SchedulerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.scheduler.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Initialize はスケジューラの一括初期化を実行する。
// POST /api/scheduler/initialize
func (h *SchedulerHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Initialize(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.scheduler.GetStatus())
}

// GetTaskStatus は指定購読の定期ジョブの状態を返す。
// GET /api/scheduler/tasks/{id}
func (h *SchedulerHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	subscriptionID, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}

	task := h.scheduler.GetTaskStatus(subscriptionID)
	if task == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "TASK_NOT_FOUND",
			Message:  "指定された購読の定期ジョブが見つかりません。",
			Category: "feed",
			Action:   "購読IDとスケジュール設定を確認してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// updateScheduleRequest はスケジュール更新リクエストのボディ。
// cronScheduleがnullの場合は定期ジョブを削除する。
type updateScheduleRequest struct {
	CronSchedule *string `json:"cronSchedule"`
}

// UpdateSchedule は購読の定期ジョブのスケジュールを置換する。
// PUT /api/subscriptions/{id}/schedule
func (h *SchedulerHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	subscriptionID, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}

	var req updateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	cronExpr := ""
	if req.CronSchedule != nil {
		cronExpr = *req.CronSchedule
	}

	if err := h.scheduler.UpdateTaskSchedule(subscriptionID, cronExpr); err != nil {
		handleServiceError(w, err)
		return
	}

	task := h.scheduler.GetTaskStatus(subscriptionID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"scheduled": task != nil,
		"task":      task,
	})
}

// parseSubscriptionID はURLパラメータの購読IDを解析する。
// 無効な場合はエラーレスポンスを書き込んでfalseを返す。
func parseSubscriptionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_SUBSCRIPTION_ID",
			Message:  "購読IDは正の整数で指定してください。",
			Category: "validation",
			Action:   "URLの購読IDを確認してください。",
		})
		return 0, false
	}
	return id, true
}
