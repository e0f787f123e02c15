// Package fetch は購読ごとの定期フェッチ処理を提供する。
// 動的スケジューラ、フェッチオーケストレータ、リトライ戦略を含む。
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/nitterpost/internal/metrics"
	"github.com/hitoshi/nitterpost/internal/model"
	"github.com/hitoshi/nitterpost/internal/repository"
)

// FetchRunner は購読フェッチの実行インターフェース。
type FetchRunner interface {
	FetchSubscription(ctx context.Context, subscriptionID int64, overrides *model.FetchOverrides) *model.FetchResult
}

// JobStatus は1つの定期ジョブのスナップショット。
type JobStatus struct {
	SubscriptionID int64      `json:"subscriptionId"`
	CronExpression string     `json:"cronExpression"`
	LastRun        *time.Time `json:"lastRun,omitempty"`
	NextRun        *time.Time `json:"nextRun,omitempty"`
	InFlight       bool       `json:"inFlight"`
}

// SchedulerStatus はスケジューラ全体のスナップショット。
type SchedulerStatus struct {
	IsRunning bool        `json:"isRunning"`
	TaskCount int         `json:"taskCount"`
	Tasks     []JobStatus `json:"tasks"`
}

// scheduledJob はジョブ登録簿の1エントリ。
// 購読につき高々1つだけ存在する。
type scheduledJob struct {
	subscriptionID int64
	cronExpr       string
	entryID        cron.EntryID
	lastRun        *time.Time
	inFlight       atomic.Bool
}

// cronParser は秒フィールドをオプションとして受け付けるパーサー。
// 標準5フィールドと先頭に秒を追加した6フィールドの両方の式を許容する。
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Scheduler は購読ごとの定期フェッチジョブの登録簿を管理する。
// 各ジョブは独立したcron式で発火し、オーケストレータを呼び出す。
// 登録簿の変更（追加・置換・削除）は実行中に行える。
//
// 同一購読のティックが前回の実行を追い越した場合、後続のティックは
// 警告ログを出してスキップされる（同一購読の同時実行は行わない）。
type Scheduler struct {
	subRepo      repository.SubscriptionRepository
	orchestrator FetchRunner
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	cron         *cron.Cron

	mu          sync.Mutex
	jobs        map[int64]*scheduledJob
	initialized bool
	stopped     bool

	// baseCtx はティックの実行に使用するコンテキスト。Startで設定される。
	baseCtx context.Context
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	subRepo repository.SubscriptionRepository,
	orchestrator FetchRunner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		subRepo:      subRepo,
		orchestrator: orchestrator,
		collector:    collector,
		logger:       logger,
		cron:         cron.New(cron.WithParser(cronParser)),
		jobs:         make(map[int64]*scheduledJob),
		baseCtx:      context.Background(),
	}
}

// Start はタイマーの発火を開始する。
// ctxはティック実行に引き継がれ、キャンセルされると実行中のフェッチも中断される。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("フェッチスケジューラを開始しました")
}

// Initialize は永続化された購読設定から定期ジョブを一括登録する。
// autofetchが有効かつcron式を持つ購読のみが対象。
// 個別のジョブ登録失敗は記録して継続し、登録できたジョブは有効のまま残る。
func (s *Scheduler) Initialize(ctx context.Context) error {
	subs, err := s.subRepo.ListActiveEnabledWithConfig(ctx)
	if err != nil {
		return fmt.Errorf("購読一覧の読み込みに失敗しました: %w", err)
	}

	scheduled := 0
	failed := 0
	for _, sc := range subs {
		if !sc.Config.WantsScheduledFetch() {
			continue
		}
		if err := s.ScheduleSubscriptionTask(sc.Subscription.ID, sc.Config.CronSchedule); err != nil {
			failed++
			s.logger.Error("定期ジョブの登録に失敗しました",
				slog.Int64("subscription_id", sc.Subscription.ID),
				slog.String("cron", sc.Config.CronSchedule),
				slog.String("error", err.Error()),
			)
			continue
		}
		scheduled++
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("スケジューラの初期化が完了しました",
		slog.Int("subscriptions_total", len(subs)),
		slog.Int("jobs_scheduled", scheduled),
		slog.Int("jobs_failed", failed),
	)
	return nil
}

// ScheduleSubscriptionTask は購読の定期ジョブを登録する。
// cron式が無効な場合はValidationErrorを返し、状態は一切変更されない。
// 同一購読のジョブが既に存在する場合は先に完全に破棄してから登録するため、
// 同一購読に対して2つのタイマーが同時に生きる瞬間はない。
func (s *Scheduler) ScheduleSubscriptionTask(subscriptionID int64, cronExpr string) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return model.NewInvalidCronError(cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[subscriptionID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, subscriptionID)
	}

	job := &scheduledJob{
		subscriptionID: subscriptionID,
		cronExpr:       cronExpr,
	}
	job.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.executeSubscriptionFetch(subscriptionID)
	}))
	s.jobs[subscriptionID] = job
	s.collector.SetScheduledJobs(len(s.jobs))

	s.logger.Info("定期ジョブを登録しました",
		slog.Int64("subscription_id", subscriptionID),
		slog.String("cron", cronExpr),
	)
	return nil
}

// UnscheduleTask は購読の定期ジョブを破棄する。
// ジョブが存在しない場合は何もしない（エラーではない）。
func (s *Scheduler) UnscheduleTask(subscriptionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[subscriptionID]
	if !ok {
		return
	}
	s.cron.Remove(job.entryID)
	delete(s.jobs, subscriptionID)
	s.collector.SetScheduledJobs(len(s.jobs))

	s.logger.Info("定期ジョブを破棄しました",
		slog.Int64("subscription_id", subscriptionID),
	)
}

// UpdateTaskSchedule はスケジュール変更と無効化の両方に使う単一の変更経路。
// 既存ジョブを無条件に破棄し、cron式が空でない場合のみ新しいジョブを登録する。
// 空文字列はジョブの削除を意味する。
func (s *Scheduler) UpdateTaskSchedule(subscriptionID int64, cronExpr string) error {
	s.UnscheduleTask(subscriptionID)
	if cronExpr == "" {
		return nil
	}
	return s.ScheduleSubscriptionTask(subscriptionID, cronExpr)
}

// executeSubscriptionFetch はタイマー発火時のコールバック。
// オーケストレータが発火時点の永続化設定を再読込するため、
// 設定変更は再スケジュール無しで次のティックから反映される。
// フェッチの失敗はログに記録されるだけで、ジョブは通常のリズムで発火を続ける。
func (s *Scheduler) executeSubscriptionFetch(subscriptionID int64) {
	s.mu.Lock()
	job, ok := s.jobs[subscriptionID]
	ctx := s.baseCtx
	s.mu.Unlock()
	if !ok {
		return
	}

	// 前回のティックがまだ実行中の場合はスキップする
	if !job.inFlight.CompareAndSwap(false, true) {
		s.collector.RecordTickSkipped()
		s.logger.Warn("前回の実行が完了していないためティックをスキップします",
			slog.Int64("subscription_id", subscriptionID),
		)
		return
	}
	defer job.inFlight.Store(false)

	now := time.Now()
	s.mu.Lock()
	job.lastRun = &now
	s.mu.Unlock()

	result := s.orchestrator.FetchSubscription(ctx, subscriptionID, nil)
	if result.Success {
		s.logger.Info("定期フェッチが完了しました",
			slog.Int64("subscription_id", subscriptionID),
			slog.Int("items_count", result.ItemsCount),
			slog.Int("new_items_count", result.NewItemsCount),
		)
	} else {
		s.logger.Error("定期フェッチに失敗しました",
			slog.Int64("subscription_id", subscriptionID),
			slog.String("error", result.Error),
		)
	}
}

// GetStatus はスケジューラ全体のスナップショットを返す。状態は変更しない。
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		tasks = append(tasks, s.jobStatusLocked(job))
	}
	return SchedulerStatus{
		IsRunning: s.initialized && !s.stopped,
		TaskCount: len(s.jobs),
		Tasks:     tasks,
	}
}

// GetTaskStatus は指定購読のジョブのスナップショットを返す。
// ジョブが存在しない場合はnilを返す。
func (s *Scheduler) GetTaskStatus(subscriptionID int64) *JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[subscriptionID]
	if !ok {
		return nil
	}
	status := s.jobStatusLocked(job)
	return &status
}

// jobStatusLocked はジョブのスナップショットを構築する。s.muを保持して呼ぶこと。
func (s *Scheduler) jobStatusLocked(job *scheduledJob) JobStatus {
	status := JobStatus{
		SubscriptionID: job.subscriptionID,
		CronExpression: job.cronExpr,
		LastRun:        job.lastRun,
		InFlight:       job.inFlight.Load(),
	}
	if entry := s.cron.Entry(job.entryID); entry.Valid() && !entry.Next.IsZero() {
		next := entry.Next
		status.NextRun = &next
	}
	return status
}

// Shutdown は全ての定期ジョブを破棄し、タイマーの発火を停止する。
// 実行中のティックの完了を待ってから戻る。2回目以降の呼び出しは何もしない。
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, job := range s.jobs {
		s.cron.Remove(job.entryID)
	}
	s.jobs = make(map[int64]*scheduledJob)
	s.collector.SetScheduledJobs(0)
	s.mu.Unlock()

	// 実行中のジョブが完了するまで待機する
	<-s.cron.Stop().Done()
	s.logger.Info("フェッチスケジューラを停止しました")
}
