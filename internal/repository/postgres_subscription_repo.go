package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/nitterpost/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id int64) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var description, lastError sql.NullString
	var lastFetchAt, lastErrorAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, type, url, status, is_enabled,
		        last_fetch_at, last_fetch_count, last_error, last_error_at,
		        total_fetches, total_items, error_count, created_at, updated_at
		 FROM subscriptions WHERE id = $1`,
		id,
	).Scan(
		&sub.ID, &sub.Name, &description, &sub.Type, &sub.URL, &sub.Status, &sub.IsEnabled,
		&lastFetchAt, &sub.LastFetchCount, &lastError, &lastErrorAt,
		&sub.TotalFetches, &sub.TotalItems, &sub.ErrorCount, &sub.CreatedAt, &sub.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}

	sub.Description = nullStringValue(description)
	sub.LastError = nullStringValue(lastError)
	sub.LastFetchAt = nullTimeValue(lastFetchAt)
	sub.LastErrorAt = nullTimeValue(lastErrorAt)

	return sub, nil
}

// ListActiveEnabledWithConfig は有効かつactiveな購読を設定とLEFT JOINして返す。
func (r *PostgresSubscriptionRepo) ListActiveEnabledWithConfig(ctx context.Context) ([]model.SubscriptionWithConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.description, s.type, s.url, s.status, s.is_enabled,
		        s.last_fetch_at, s.last_fetch_count, s.last_error, s.last_error_at,
		        s.total_fetches, s.total_items, s.error_count, s.created_at, s.updated_at,
		        c.id, c.cron_schedule, c.auto_fetch, c.max_items, c.retry_count,
		        c.timeout_seconds, c.user_agent, c.headers, c.dedup_enabled, c.dedup_field,
		        c.created_at, c.updated_at
		 FROM subscriptions s
		 LEFT JOIN subscription_configs c ON s.id = c.subscription_id
		 WHERE s.is_enabled = true
		   AND s.status = 'active'
		 ORDER BY s.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []model.SubscriptionWithConfig
	for rows.Next() {
		sub := &model.Subscription{}
		var description, lastError sql.NullString
		var lastFetchAt, lastErrorAt sql.NullTime

		var cfgID sql.NullInt64
		var cronSchedule, userAgent, dedupField sql.NullString
		var autoFetch, dedupEnabled sql.NullBool
		var maxItems, retryCount, timeoutSeconds sql.NullInt64
		var headersJSON []byte
		var cfgCreatedAt, cfgUpdatedAt sql.NullTime

		if err := rows.Scan(
			&sub.ID, &sub.Name, &description, &sub.Type, &sub.URL, &sub.Status, &sub.IsEnabled,
			&lastFetchAt, &sub.LastFetchCount, &lastError, &lastErrorAt,
			&sub.TotalFetches, &sub.TotalItems, &sub.ErrorCount, &sub.CreatedAt, &sub.UpdatedAt,
			&cfgID, &cronSchedule, &autoFetch, &maxItems, &retryCount,
			&timeoutSeconds, &userAgent, &headersJSON, &dedupEnabled, &dedupField,
			&cfgCreatedAt, &cfgUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("購読一覧の読み取りに失敗しました: %w", err)
		}

		sub.Description = nullStringValue(description)
		sub.LastError = nullStringValue(lastError)
		sub.LastFetchAt = nullTimeValue(lastFetchAt)
		sub.LastErrorAt = nullTimeValue(lastErrorAt)

		var cfg *model.SubscriptionConfig
		if cfgID.Valid {
			cfg = &model.SubscriptionConfig{
				ID:             cfgID.Int64,
				SubscriptionID: sub.ID,
				CronSchedule:   nullStringValue(cronSchedule),
				AutoFetch:      autoFetch.Valid && autoFetch.Bool,
				MaxItems:       int(maxItems.Int64),
				RetryCount:     int(retryCount.Int64),
				TimeoutSeconds: int(timeoutSeconds.Int64),
				UserAgent:      nullStringValue(userAgent),
				DedupEnabled:   dedupEnabled.Valid && dedupEnabled.Bool,
				DedupField:     model.DedupField(nullStringValue(dedupField)),
			}
			if cfgCreatedAt.Valid {
				cfg.CreatedAt = cfgCreatedAt.Time
			}
			if cfgUpdatedAt.Valid {
				cfg.UpdatedAt = cfgUpdatedAt.Time
			}
			if len(headersJSON) > 0 {
				if err := json.Unmarshal(headersJSON, &cfg.Headers); err != nil {
					return nil, fmt.Errorf("headersの解析に失敗しました: %w", err)
				}
			}
		}

		results = append(results, model.SubscriptionWithConfig{
			Subscription: sub,
			Config:       cfg,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}

	return results, nil
}

// UpdateFetchHealth はフェッチ結果に応じて購読のヘルスフィールドを原子的に更新する。
// カウンタのインクリメントはSQL側で行い、読み取り-書き込みのレースを避ける。
func (r *PostgresSubscriptionRepo) UpdateFetchHealth(ctx context.Context, id int64, success bool, itemsCount int, errMsg string) error {
	var err error
	if success {
		_, err = r.db.ExecContext(ctx,
			`UPDATE subscriptions SET
			    total_fetches = total_fetches + 1,
			    last_fetch_at = now(),
			    last_fetch_count = $2,
			    total_items = total_items + $2,
			    status = 'active',
			    updated_at = now()
			 WHERE id = $1`,
			id, itemsCount,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE subscriptions SET
			    total_fetches = total_fetches + 1,
			    last_error = $2,
			    last_error_at = now(),
			    error_count = error_count + 1,
			    status = 'error',
			    updated_at = now()
			 WHERE id = $1`,
			id, nullString(errMsg),
		)
	}
	if err != nil {
		return fmt.Errorf("購読ヘルスの更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
