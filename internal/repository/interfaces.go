// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/nitterpost/internal/model"
)

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Subscription, error)

	// ListActiveEnabledWithConfig は有効（is_enabled）かつactiveな購読を
	// 設定とLEFT JOINして返す。設定が無い購読のConfigはnil。
	// スケジューラの一括初期化で使用される。
	ListActiveEnabledWithConfig(ctx context.Context) ([]model.SubscriptionWithConfig, error)

	// UpdateFetchHealth はフェッチ結果に応じて購読のヘルスフィールドを
	// 1回のUPDATEで原子的に更新する。
	// 常にtotal_fetchesをインクリメントしupdated_atを更新する。
	// 成功時: last_fetch_at=now、last_fetch_count=itemsCount、
	// total_items += itemsCount、status=active。
	// 失敗時: last_error=errMsg、last_error_at=now、error_count+1、status=error。
	UpdateFetchHealth(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error
}

// SubscriptionConfigRepository は購読フェッチ設定の永続化インターフェース。
type SubscriptionConfigRepository interface {
	// FindBySubscriptionID は指定購読の設定を取得する。見つからない場合はnilを返す。
	FindBySubscriptionID(ctx context.Context, subscriptionID int64) (*model.SubscriptionConfig, error)
}

// PostRepository はポストデータの永続化インターフェース。
type PostRepository interface {
	// FindByExternalID は購読IDとexternal_idでポストを検索する。
	// 重複判定に使用される。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, subscriptionID int64, externalID string) (*model.Post, error)

	// Create はポストを挿入する。
	// (subscription_id, external_id)のユニーク制約と競合した場合は
	// エラーではなくfalse（重複スキップ）を返す。
	Create(ctx context.Context, post *model.Post) (bool, error)
}
