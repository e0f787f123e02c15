package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/nitterpost/internal/feedsource"
	"github.com/hitoshi/nitterpost/internal/metrics"
	"github.com/hitoshi/nitterpost/internal/model"
	"github.com/hitoshi/nitterpost/internal/repository"
)

// ItemSaver はアイテム1件の取り込みインターフェース。
type ItemSaver interface {
	SaveItem(ctx context.Context, item *model.FeedItem, sub *model.Subscription, cfg model.FetchConfig) (bool, error)
}

// Orchestrator は「この購読を今すぐフェッチする」という1単位の処理を実装する。
// スケジューラのティックと手動トリガーの両方から同一の形で呼び出される。
// 呼び出し元には決してエラーを伝播させず、常にFetchResultを返す。
type Orchestrator struct {
	subRepo   repository.SubscriptionRepository
	cfgRepo   repository.SubscriptionConfigRepository
	source    feedsource.Source
	pipeline  ItemSaver
	collector metrics.MetricsCollector
	logger    *slog.Logger
	defaults  model.FetchConfig
	sleep     func(ctx context.Context, d time.Duration)
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	subRepo repository.SubscriptionRepository,
	cfgRepo repository.SubscriptionConfigRepository,
	source feedsource.Source,
	pipeline ItemSaver,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	defaults model.FetchConfig,
) *Orchestrator {
	return &Orchestrator{
		subRepo:   subRepo,
		cfgRepo:   cfgRepo,
		source:    source,
		pipeline:  pipeline,
		collector: collector,
		logger:    logger,
		defaults:  defaults,
		sleep:     sleepContext,
	}
}

// FetchSubscription は指定購読のフィードを取得して取り込む。
// 購読が存在しない、無効、または非activeの場合はネットワークI/Oと
// ストレージ更新を行わずに非成功の結果を返す（エラーではなくガード）。
func (o *Orchestrator) FetchSubscription(ctx context.Context, subscriptionID int64, overrides *model.FetchOverrides) *model.FetchResult {
	sub, err := o.subRepo.FindByID(ctx, subscriptionID)
	if err != nil {
		o.logger.Error("購読の読み込みに失敗しました",
			slog.Int64("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
		return &model.FetchResult{Success: false, Error: err.Error()}
	}
	if sub == nil {
		return &model.FetchResult{
			Success: false,
			Error:   model.NewSubscriptionNotFoundError(subscriptionID).Error(),
		}
	}

	// ガード: 無効または非activeの購読はI/Oを行わずスキップする
	if !sub.IsEnabled || sub.Status != model.SubscriptionStatusActive {
		o.logger.Info("購読が無効のためフェッチをスキップします",
			slog.Int64("subscription_id", subscriptionID),
			slog.Bool("is_enabled", sub.IsEnabled),
			slog.String("status", string(sub.Status)),
		)
		return &model.FetchResult{
			Success: false,
			Error: fmt.Sprintf("購読が無効です (is_enabled=%t, status=%s)",
				sub.IsEnabled, sub.Status),
		}
	}

	// 発火時点の永続化設定を読み込む。設定が無い購読にはデフォルトが適用される。
	persisted, err := o.cfgRepo.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		o.logger.Error("購読設定の読み込みに失敗しました",
			slog.Int64("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
		return &model.FetchResult{Success: false, Error: err.Error()}
	}

	cfg := o.defaults.Apply(persisted.Overrides()).Apply(overrides)
	return o.FetchFeed(ctx, sub.URL, sub, cfg)
}

// FetchFeed はURLのフィードを取得してパースし、subが非nilの場合は取り込みを行う。
// subがnilの場合は診断モード: ストレージには一切触れず、パース結果を
// そのまま返す（newItemsCount = itemsCount、重複判定なし）。
//
// 取得はトランスポートエラーに限り、cfg.RetryCountを上限として
// 指数バックオフ付きで再試行される。パース失敗は再試行しない。
func (o *Orchestrator) FetchFeed(ctx context.Context, feedURL string, sub *model.Subscription, cfg model.FetchConfig) *model.FetchResult {
	start := time.Now()

	items, err := o.retrieveWithRetry(ctx, feedURL, cfg)
	o.collector.RecordFetchLatency(time.Since(start))
	if err != nil {
		o.logger.Error("フィードの取得に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		o.collector.RecordFetchFailure(failureReason(err))
		if sub != nil {
			o.updateHealth(ctx, sub.ID, false, 0, err.Error())
		}
		return &model.FetchResult{Success: false, Error: err.Error()}
	}

	// アイテム0件のフィードは成功扱い
	if len(items) == 0 {
		o.collector.RecordFetchSuccess()
		return &model.FetchResult{Success: true, Items: []model.FeedItem{}}
	}

	if len(items) > cfg.MaxItems {
		items = items[:cfg.MaxItems]
	}

	newItemsCount := 0
	var processedItems []model.FeedItem

	if sub != nil {
		for i := range items {
			inserted, saveErr := o.pipeline.SaveItem(ctx, &items[i], sub, cfg)
			if saveErr != nil {
				// アイテム単位で隔離: 1件の保存失敗が残りの処理を中断させない
				o.logger.Error("アイテムの保存に失敗しました",
					slog.Int64("subscription_id", sub.ID),
					slog.String("feed_url", feedURL),
					slog.String("error", saveErr.Error()),
				)
				continue
			}
			if inserted {
				newItemsCount++
				processedItems = append(processedItems, items[i])
			}
		}
		o.collector.RecordPostsIngested(newItemsCount)
		o.collector.RecordPostsDuplicate(len(items) - newItemsCount)
		o.updateHealth(ctx, sub.ID, true, len(items), "")
	} else {
		processedItems = items
		newItemsCount = len(items)
	}

	o.collector.RecordFetchSuccess()
	o.logger.Info("フィードの取り込みが完了しました",
		slog.String("feed_url", feedURL),
		slog.Int("items_count", len(items)),
		slog.Int("new_items_count", newItemsCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &model.FetchResult{
		Success:       true,
		ItemsCount:    len(items),
		NewItemsCount: newItemsCount,
		Items:         processedItems,
	}
}

// retrieveWithRetry はトランスポートエラーに限り再試行付きでフィードを取得する。
func (o *Orchestrator) retrieveWithRetry(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(attempt - 1)
			o.logger.Warn("フィード取得を再試行します",
				slog.String("feed_url", feedURL),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			o.sleep(ctx, delay)
			if ctx.Err() != nil {
				return nil, model.NewFetchFailedError(ctx.Err().Error())
			}
		}

		items, err := o.source.FetchAndParse(ctx, feedURL, cfg)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// updateHealth は購読のヘルスフィールドを更新する。
// この更新自体の失敗はログに記録するだけで、結果の構築を妨げない。
func (o *Orchestrator) updateHealth(ctx context.Context, subscriptionID int64, success bool, itemsCount int, errMsg string) {
	if err := o.subRepo.UpdateFetchHealth(ctx, subscriptionID, success, itemsCount, errMsg); err != nil {
		o.logger.Error("購読ヘルスの更新に失敗しました",
			slog.Int64("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
	}
}

// failureReason はエラーをメトリクスのラベル用の理由に分類する。
func failureReason(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeFetchFailed:
			return "transport"
		case model.ErrCodeParseFailed:
			return "parse"
		case model.ErrCodeInvalidURL:
			return "validation"
		}
	}
	return "other"
}

// sleepContext はコンテキストのキャンセルを尊重して待機する。
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
