package fetch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/nitterpost/internal/model"
)

// --- モック定義 ---

// mockConfigRepo はSubscriptionConfigRepositoryのテスト用モック。
type mockConfigRepo struct {
	findBySubscriptionIDFunc func(ctx context.Context, subscriptionID int64) (*model.SubscriptionConfig, error)
}

func (m *mockConfigRepo) FindBySubscriptionID(ctx context.Context, subscriptionID int64) (*model.SubscriptionConfig, error) {
	if m.findBySubscriptionIDFunc != nil {
		return m.findBySubscriptionIDFunc(ctx, subscriptionID)
	}
	return nil, nil
}

// mockSource はfeedsource.Sourceのテスト用モック。
type mockSource struct {
	fetchAndParseFunc func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error)
	calls             atomic.Int32
}

func (m *mockSource) FetchAndParse(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
	m.calls.Add(1)
	if m.fetchAndParseFunc != nil {
		return m.fetchAndParseFunc(ctx, feedURL, cfg)
	}
	return nil, nil
}

// mockItemSaver はItemSaverのテスト用モック。
type mockItemSaver struct {
	saveItemFunc func(ctx context.Context, item *model.FeedItem, sub *model.Subscription, cfg model.FetchConfig) (bool, error)
	calls        atomic.Int32
}

func (m *mockItemSaver) SaveItem(ctx context.Context, item *model.FeedItem, sub *model.Subscription, cfg model.FetchConfig) (bool, error) {
	m.calls.Add(1)
	if m.saveItemFunc != nil {
		return m.saveItemFunc(ctx, item, sub, cfg)
	}
	return true, nil
}

// healthCall はUpdateFetchHealth呼び出しの記録。
type healthCall struct {
	id         int64
	success    bool
	itemsCount int
	errMsg     string
}

func newTestOrchestrator(
	subRepo *mockSubscriptionRepo,
	cfgRepo *mockConfigRepo,
	source *mockSource,
	saver *mockItemSaver,
) *Orchestrator {
	var buf bytes.Buffer
	o := NewOrchestrator(
		subRepo, cfgRepo, source, saver,
		nopCollector{}, newTestLogger(&buf), model.DefaultFetchConfig(),
	)
	// テストではバックオフ待機を省略する
	o.sleep = func(ctx context.Context, d time.Duration) {}
	return o
}

func activeSubscription(id int64) *model.Subscription {
	return &model.Subscription{
		ID:        id,
		Name:      "test",
		Type:      model.SubscriptionTypeNitterRSS,
		URL:       "https://nitter.example.com/user/rss",
		Status:    model.SubscriptionStatusActive,
		IsEnabled: true,
	}
}

func testItems(n int) []model.FeedItem {
	items := make([]model.FeedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, model.FeedItem{
			GUID:  "guid-" + string(rune('a'+i)),
			Title: "item",
		})
	}
	return items
}

// --- FetchSubscription のテスト ---

func TestFetchSubscription_NotFound(t *testing.T) {
	var healthCalls []healthCall
	subRepo := &mockSubscriptionRepo{
		findByIDFunc: func(ctx context.Context, id int64) (*model.Subscription, error) {
			return nil, nil
		},
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			healthCalls = append(healthCalls, healthCall{id, success, itemsCount, errMsg})
			return nil
		},
	}
	source := &mockSource{}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchSubscription(context.Background(), 42, nil)

	if result.Success {
		t.Error("存在しない購読は非成功の結果を返さなければならない")
	}
	if !strings.Contains(result.Error, "42") {
		t.Errorf("エラーメッセージに購読IDが含まれない: %s", result.Error)
	}
	if source.calls.Load() != 0 {
		t.Error("存在しない購読でネットワークI/Oが発生してはならない")
	}
	if len(healthCalls) != 0 {
		t.Error("存在しない購読でヘルス更新が発生してはならない")
	}
}

func TestFetchSubscription_DisabledShortCircuits(t *testing.T) {
	var healthCalls []healthCall
	sub := activeSubscription(1)
	sub.IsEnabled = false
	subRepo := &mockSubscriptionRepo{
		findByIDFunc: func(ctx context.Context, id int64) (*model.Subscription, error) {
			return sub, nil
		},
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			healthCalls = append(healthCalls, healthCall{id, success, itemsCount, errMsg})
			return nil
		},
	}
	source := &mockSource{}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchSubscription(context.Background(), 1, nil)

	if result.Success {
		t.Error("無効な購読は非成功の結果を返さなければならない")
	}
	if result.Error == "" {
		t.Error("ガード結果には理由の説明が必要")
	}
	if source.calls.Load() != 0 {
		t.Error("無効な購読でネットワークI/Oが発生してはならない")
	}
	if len(healthCalls) != 0 {
		t.Error("無効な購読でヘルス更新が発生してはならない")
	}
}

func TestFetchSubscription_NonActiveStatusShortCircuits(t *testing.T) {
	sub := activeSubscription(1)
	sub.Status = model.SubscriptionStatusPaused
	subRepo := &mockSubscriptionRepo{
		findByIDFunc: func(ctx context.Context, id int64) (*model.Subscription, error) {
			return sub, nil
		},
	}
	source := &mockSource{}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchSubscription(context.Background(), 1, nil)

	if result.Success {
		t.Error("非activeの購読は非成功の結果を返さなければならない")
	}
	if source.calls.Load() != 0 {
		t.Error("非activeの購読でネットワークI/Oが発生してはならない")
	}
}

func TestFetchSubscription_AppliesPersistedConfig(t *testing.T) {
	subRepo := &mockSubscriptionRepo{
		findByIDFunc: func(ctx context.Context, id int64) (*model.Subscription, error) {
			return activeSubscription(1), nil
		},
	}
	cfgRepo := &mockConfigRepo{
		findBySubscriptionIDFunc: func(ctx context.Context, id int64) (*model.SubscriptionConfig, error) {
			return &model.SubscriptionConfig{
				SubscriptionID: 1,
				MaxItems:       2,
				UserAgent:      "CustomAgent/1.0",
				DedupEnabled:   true,
				DedupField:     model.DedupFieldLink,
			}, nil
		},
	}

	var gotCfg model.FetchConfig
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			gotCfg = cfg
			return testItems(5), nil
		},
	}
	o := newTestOrchestrator(subRepo, cfgRepo, source, &mockItemSaver{})

	result := o.FetchSubscription(context.Background(), 1, nil)

	if !result.Success {
		t.Fatalf("フェッチが失敗した: %s", result.Error)
	}
	if gotCfg.UserAgent != "CustomAgent/1.0" {
		t.Errorf("UserAgent = %s, want CustomAgent/1.0", gotCfg.UserAgent)
	}
	if gotCfg.Dedup.Field != model.DedupFieldLink {
		t.Errorf("Dedup.Field = %s, want link", gotCfg.Dedup.Field)
	}
	// MaxItems=2 により5件のうち2件に切り詰められる
	if result.ItemsCount != 2 {
		t.Errorf("ItemsCount = %d, want 2", result.ItemsCount)
	}
}

// --- FetchFeed のテスト ---

func TestFetchFeed_EmptyFeedIsSuccess(t *testing.T) {
	var healthCalls []healthCall
	subRepo := &mockSubscriptionRepo{
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			healthCalls = append(healthCalls, healthCall{id, success, itemsCount, errMsg})
			return nil
		},
	}
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return []model.FeedItem{}, nil
		},
	}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), model.DefaultFetchConfig())

	if !result.Success {
		t.Error("アイテム0件のフィードは成功でなければならない")
	}
	if result.ItemsCount != 0 || result.NewItemsCount != 0 {
		t.Errorf("counts = (%d, %d), want (0, 0)", result.ItemsCount, result.NewItemsCount)
	}
	// アイテム0件の場合はヘルス更新を行わない
	if len(healthCalls) != 0 {
		t.Errorf("ヘルス更新の回数 = %d, want 0", len(healthCalls))
	}
}

func TestFetchFeed_BatchIsolation(t *testing.T) {
	var healthCalls []healthCall
	subRepo := &mockSubscriptionRepo{
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			healthCalls = append(healthCalls, healthCall{id, success, itemsCount, errMsg})
			return nil
		},
	}
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return testItems(3), nil
		},
	}
	saveCount := 0
	saver := &mockItemSaver{
		saveItemFunc: func(ctx context.Context, item *model.FeedItem, sub *model.Subscription, cfg model.FetchConfig) (bool, error) {
			saveCount++
			if saveCount == 2 {
				// 2件目だけ保存に失敗する
				return false, model.NewPersistenceError("insert failed")
			}
			return true, nil
		},
	}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, saver)

	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), model.DefaultFetchConfig())

	// 1件の失敗はバッチ全体を中断させない
	if !result.Success {
		t.Error("アイテム単位の保存失敗でバッチ全体が失敗してはならない")
	}
	if result.ItemsCount != 3 {
		t.Errorf("ItemsCount = %d, want 3", result.ItemsCount)
	}
	if result.NewItemsCount != 2 {
		t.Errorf("NewItemsCount = %d, want 2", result.NewItemsCount)
	}
	if saveCount != 3 {
		t.Errorf("SaveItem の呼び出し回数 = %d, want 3（失敗後も継続）", saveCount)
	}

	if len(healthCalls) != 1 {
		t.Fatalf("ヘルス更新の回数 = %d, want 1", len(healthCalls))
	}
	if !healthCalls[0].success || healthCalls[0].itemsCount != 3 {
		t.Errorf("ヘルス更新 = %+v, want success=true itemsCount=3", healthCalls[0])
	}
}

func TestFetchFeed_DuplicatesNotCountedAsNew(t *testing.T) {
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return testItems(3), nil
		},
	}
	saver := &mockItemSaver{
		saveItemFunc: func(ctx context.Context, item *model.FeedItem, sub *model.Subscription, cfg model.FetchConfig) (bool, error) {
			// 全件重複
			return false, nil
		},
	}
	o := newTestOrchestrator(&mockSubscriptionRepo{}, &mockConfigRepo{}, source, saver)

	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), model.DefaultFetchConfig())

	if !result.Success {
		t.Error("全件重複でも成功でなければならない")
	}
	if result.NewItemsCount != 0 {
		t.Errorf("NewItemsCount = %d, want 0", result.NewItemsCount)
	}
	if result.ItemsCount != 3 {
		t.Errorf("ItemsCount = %d, want 3", result.ItemsCount)
	}
}

func TestFetchFeed_TransportErrorUpdatesHealth(t *testing.T) {
	var healthCalls []healthCall
	subRepo := &mockSubscriptionRepo{
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			healthCalls = append(healthCalls, healthCall{id, success, itemsCount, errMsg})
			return nil
		},
	}
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return nil, model.NewFetchFailedError("connection refused")
		},
	}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, &mockItemSaver{})

	cfg := model.DefaultFetchConfig()
	cfg.RetryCount = 2
	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), cfg)

	if result.Success {
		t.Error("トランスポートエラーは非成功の結果を返さなければならない")
	}
	if result.ItemsCount != 0 {
		t.Errorf("ItemsCount = %d, want 0", result.ItemsCount)
	}
	// 初回 + 再試行2回
	if got := source.calls.Load(); got != 3 {
		t.Errorf("取得試行回数 = %d, want 3", got)
	}

	if len(healthCalls) != 1 {
		t.Fatalf("ヘルス更新の回数 = %d, want 1", len(healthCalls))
	}
	hc := healthCalls[0]
	if hc.success || hc.itemsCount != 0 || hc.errMsg == "" {
		t.Errorf("ヘルス更新 = %+v, want success=false itemsCount=0 エラーメッセージあり", hc)
	}
}

func TestFetchFeed_ParseErrorNotRetried(t *testing.T) {
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return nil, model.NewParseFailedError("invalid XML")
		},
	}
	o := newTestOrchestrator(&mockSubscriptionRepo{}, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), model.DefaultFetchConfig())

	if result.Success {
		t.Error("パース失敗は非成功の結果を返さなければならない")
	}
	// パース失敗は同じペイロードで再試行しても無駄なため1回のみ
	if got := source.calls.Load(); got != 1 {
		t.Errorf("取得試行回数 = %d, want 1（パース失敗は再試行しない）", got)
	}
}

func TestFetchFeed_TransientErrorRecoversOnRetry(t *testing.T) {
	source := &mockSource{}
	source.fetchAndParseFunc = func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
		if source.calls.Load() == 1 {
			return nil, model.NewFetchFailedError("temporary failure")
		}
		return testItems(1), nil
	}
	o := newTestOrchestrator(&mockSubscriptionRepo{}, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), model.DefaultFetchConfig())

	if !result.Success {
		t.Errorf("再試行で回復すべきところ失敗した: %s", result.Error)
	}
	if got := source.calls.Load(); got != 2 {
		t.Errorf("取得試行回数 = %d, want 2", got)
	}
}

func TestFetchFeed_DiagnosticModeSkipsPersistence(t *testing.T) {
	var healthCalls []healthCall
	subRepo := &mockSubscriptionRepo{
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			healthCalls = append(healthCalls, healthCall{id, success, itemsCount, errMsg})
			return nil
		},
	}
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return testItems(4), nil
		},
	}
	saver := &mockItemSaver{}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, saver)

	// subがnilの診断モード
	result := o.FetchFeed(context.Background(), "https://example.com/rss", nil, model.DefaultFetchConfig())

	if !result.Success {
		t.Fatalf("診断フェッチが失敗した: %s", result.Error)
	}
	if saver.calls.Load() != 0 {
		t.Error("診断モードで保存が発生してはならない")
	}
	if len(healthCalls) != 0 {
		t.Error("診断モードでヘルス更新が発生してはならない")
	}
	// 重複判定なし: newItemsCount = itemsCount
	if result.NewItemsCount != result.ItemsCount {
		t.Errorf("NewItemsCount = %d, want %d", result.NewItemsCount, result.ItemsCount)
	}
	if len(result.Items) != 4 {
		t.Errorf("len(Items) = %d, want 4", len(result.Items))
	}
}

func TestFetchFeed_HealthUpdateFailureDoesNotAbortResult(t *testing.T) {
	subRepo := &mockSubscriptionRepo{
		updateFetchHealthFunc: func(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
			return errors.New("db write failed")
		},
	}
	source := &mockSource{
		fetchAndParseFunc: func(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
			return testItems(2), nil
		},
	}
	o := newTestOrchestrator(subRepo, &mockConfigRepo{}, source, &mockItemSaver{})

	result := o.FetchFeed(context.Background(), "https://example.com/rss", activeSubscription(1), model.DefaultFetchConfig())

	// ヘルス更新の失敗はログに記録されるだけで、結果には影響しない
	if !result.Success {
		t.Errorf("ヘルス更新失敗で結果が失敗になってはならない: %s", result.Error)
	}
	if result.NewItemsCount != 2 {
		t.Errorf("NewItemsCount = %d, want 2", result.NewItemsCount)
	}
}
