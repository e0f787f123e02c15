package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/nitterpost/internal/model"
)

// PostgresSubscriptionConfigRepo はPostgreSQLを使用した購読設定リポジトリ。
type PostgresSubscriptionConfigRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionConfigRepo はPostgresSubscriptionConfigRepoを生成する。
func NewPostgresSubscriptionConfigRepo(db *sql.DB) *PostgresSubscriptionConfigRepo {
	return &PostgresSubscriptionConfigRepo{db: db}
}

// FindBySubscriptionID は指定購読の設定を取得する。見つからない場合はnilを返す。
// スケジューラのティックはこのメソッドで発火時点の設定を再読込するため、
// 設定変更は再スケジュール無しで次のティックから反映される。
func (r *PostgresSubscriptionConfigRepo) FindBySubscriptionID(ctx context.Context, subscriptionID int64) (*model.SubscriptionConfig, error) {
	cfg := &model.SubscriptionConfig{}
	var cronSchedule, userAgent sql.NullString
	var headersJSON []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, cron_schedule, auto_fetch, max_items,
		        retry_count, timeout_seconds, user_agent, headers,
		        dedup_enabled, dedup_field, created_at, updated_at
		 FROM subscription_configs WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(
		&cfg.ID, &cfg.SubscriptionID, &cronSchedule, &cfg.AutoFetch, &cfg.MaxItems,
		&cfg.RetryCount, &cfg.TimeoutSeconds, &userAgent, &headersJSON,
		&cfg.DedupEnabled, &cfg.DedupField, &cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読設定の取得に失敗しました: %w", err)
	}

	cfg.CronSchedule = nullStringValue(cronSchedule)
	cfg.UserAgent = nullStringValue(userAgent)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &cfg.Headers); err != nil {
			return nil, fmt.Errorf("headersの解析に失敗しました: %w", err)
		}
	}

	return cfg, nil
}

// compile-time interface check
var _ SubscriptionConfigRepository = (*PostgresSubscriptionConfigRepo)(nil)
