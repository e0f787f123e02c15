// Package model はドメインモデルを定義する。
package model

import "time"

// Subscription は管理対象のフィード購読を表す。
// ヘルスフィールド（status、各種カウンタ、last_error）はフェッチ結果に応じて
// オーケストレータのみが更新する。
type Subscription struct {
	ID             int64
	Name           string
	Description    string
	Type           SubscriptionType
	URL            string
	Status         SubscriptionStatus
	IsEnabled      bool
	LastFetchAt    *time.Time
	LastFetchCount int
	LastError      string
	LastErrorAt    *time.Time
	TotalFetches   int64
	TotalItems     int64
	ErrorCount     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubscriptionType は購読元のフィード方言を表す。
type SubscriptionType string

const (
	// SubscriptionTypeNitterRSS はNitterプロキシ経由のTwitter RSS。
	SubscriptionTypeNitterRSS SubscriptionType = "nitter_rss"
	// SubscriptionTypeTwitterRSS は直接のTwitter RSS。
	SubscriptionTypeTwitterRSS SubscriptionType = "twitter_rss"
	// SubscriptionTypeYouTubeRSS はYouTubeチャンネルのRSS。
	SubscriptionTypeYouTubeRSS SubscriptionType = "youtube_rss"
	// SubscriptionTypeRedditRSS はRedditのRSS。
	SubscriptionTypeRedditRSS SubscriptionType = "reddit_rss"
	// SubscriptionTypeGenericRSS は汎用RSS/Atom。
	SubscriptionTypeGenericRSS SubscriptionType = "generic_rss"
)

// SubscriptionStatus は購読の状態を表す。
// errorは直近のフェッチ失敗時のみ設定され、次の成功でactiveに戻る。
type SubscriptionStatus string

const (
	// SubscriptionStatusActive はアクティブな購読状態。
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusPaused は一時停止中の購読状態。
	SubscriptionStatusPaused SubscriptionStatus = "paused"
	// SubscriptionStatusError は直近のフェッチが失敗した購読状態。
	SubscriptionStatusError SubscriptionStatus = "error"
	// SubscriptionStatusDisabled は無効化された購読状態。
	SubscriptionStatusDisabled SubscriptionStatus = "disabled"
)

// SourceType は保存されるポストの由来プラットフォームを表す。
type SourceType string

const (
	// SourceTypeTwitter はTwitter由来（Nitterプロキシ含む）。
	SourceTypeTwitter SourceType = "twitter"
	// SourceTypeYouTube はYouTube由来。
	SourceTypeYouTube SourceType = "youtube"
	// SourceTypeReddit はReddit由来。
	SourceTypeReddit SourceType = "reddit"
	// SourceTypeRSS は汎用RSS由来。
	SourceTypeRSS SourceType = "rss"
	// SourceTypeOther は不明な由来。
	SourceTypeOther SourceType = "other"
)

// SourceTypeFor は購読のフィード方言からポストのsource_typeを導出する。
func SourceTypeFor(t SubscriptionType) SourceType {
	switch t {
	case SubscriptionTypeNitterRSS, SubscriptionTypeTwitterRSS:
		return SourceTypeTwitter
	case SubscriptionTypeYouTubeRSS:
		return SourceTypeYouTube
	case SubscriptionTypeRedditRSS:
		return SourceTypeReddit
	case SubscriptionTypeGenericRSS:
		return SourceTypeRSS
	default:
		return SourceTypeOther
	}
}

// SubscriptionConfig は1購読に対するフェッチポリシーを表す。
// 購読につき高々1件。存在しない場合はデフォルトポリシーが適用される。
type SubscriptionConfig struct {
	ID             int64
	SubscriptionID int64
	// CronSchedule は定期フェッチのcron式。空文字列は「定期ジョブなし」を意味する。
	CronSchedule   string
	AutoFetch      bool
	MaxItems       int
	RetryCount     int
	TimeoutSeconds int
	UserAgent      string
	Headers        map[string]string
	DedupEnabled   bool
	DedupField     DedupField
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WantsScheduledFetch は定期ジョブを持つべき設定かを返す。
// autofetchが有効かつcron式が空でない場合のみtrue。
func (c *SubscriptionConfig) WantsScheduledFetch() bool {
	return c != nil && c.AutoFetch && c.CronSchedule != ""
}

// SubscriptionWithConfig は購読と設定（存在する場合）のペア。
// スケジューラの一括初期化で使用される。
type SubscriptionWithConfig struct {
	Subscription *Subscription
	Config       *SubscriptionConfig // 設定が無い購読ではnil
}
