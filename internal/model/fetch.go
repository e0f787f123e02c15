package model

import "time"

// デフォルトフェッチポリシーの値。
const (
	// DefaultMaxItems は1回のフェッチで処理するアイテムの上限。
	DefaultMaxItems = 50
	// DefaultFetchTimeout はフィード取得のタイムアウト。
	DefaultFetchTimeout = 30 * time.Second
	// DefaultRetryCount はトランスポートエラー時の再試行回数。
	DefaultRetryCount = 3
	// DefaultUserAgent はフィード取得時のUser-Agent。
	DefaultUserAgent = "Mozilla/5.0 (compatible; RSS-Reader/1.0)"
)

// DedupPolicy は重複判定ポリシーを表す。
type DedupPolicy struct {
	Enabled bool
	Field   DedupField
}

// FetchConfig は1回のフェッチに適用される実効ポリシー。
// 認識されるオプションとその効果:
//   - MaxItems: パース結果をこの件数に切り詰める
//   - Timeout: フィード取得リクエストの打ち切り時間
//   - RetryCount: トランスポートエラー時の再試行回数（パース失敗には適用しない）
//   - UserAgent: リクエストのUser-Agentヘッダー
//   - Headers: 追加リクエストヘッダー
//   - Dedup: 重複判定の有効フラグと判定フィールド（guid / link / title）
type FetchConfig struct {
	MaxItems   int
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
	Headers    map[string]string
	Dedup      DedupPolicy
}

// DefaultFetchConfig はデフォルトのフェッチポリシーを返す。
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		MaxItems:   DefaultMaxItems,
		Timeout:    DefaultFetchTimeout,
		RetryCount: DefaultRetryCount,
		UserAgent:  DefaultUserAgent,
		Headers:    map[string]string{},
		Dedup: DedupPolicy{
			Enabled: true,
			Field:   DedupFieldGUID,
		},
	}
}

// FetchOverrides はフェッチポリシーの部分上書きを表す。
// nilフィールドは上書きしない。
type FetchOverrides struct {
	MaxItems     *int
	Timeout      *time.Duration
	RetryCount   *int
	UserAgent    *string
	Headers      map[string]string
	DedupEnabled *bool
	DedupField   *DedupField
}

// Apply は上書きを適用した新しいFetchConfigを返す。レシーバは変更しない。
func (c FetchConfig) Apply(o *FetchOverrides) FetchConfig {
	if o == nil {
		return c
	}
	if o.MaxItems != nil {
		c.MaxItems = *o.MaxItems
	}
	if o.Timeout != nil {
		c.Timeout = *o.Timeout
	}
	if o.RetryCount != nil {
		c.RetryCount = *o.RetryCount
	}
	if o.UserAgent != nil {
		c.UserAgent = *o.UserAgent
	}
	if o.Headers != nil {
		c.Headers = o.Headers
	}
	if o.DedupEnabled != nil {
		c.Dedup.Enabled = *o.DedupEnabled
	}
	if o.DedupField != nil {
		c.Dedup.Field = *o.DedupField
	}
	return c
}

// Overrides は永続化された購読設定をFetchOverridesに変換する。
// ゼロ値のカラム（未設定）は上書き対象に含めない。
func (sc *SubscriptionConfig) Overrides() *FetchOverrides {
	if sc == nil {
		return nil
	}
	o := &FetchOverrides{}
	if sc.MaxItems > 0 {
		v := sc.MaxItems
		o.MaxItems = &v
	}
	if sc.TimeoutSeconds > 0 {
		v := time.Duration(sc.TimeoutSeconds) * time.Second
		o.Timeout = &v
	}
	if sc.RetryCount > 0 {
		v := sc.RetryCount
		o.RetryCount = &v
	}
	if sc.UserAgent != "" {
		v := sc.UserAgent
		o.UserAgent = &v
	}
	if sc.Headers != nil {
		o.Headers = sc.Headers
	}
	enabled := sc.DedupEnabled
	o.DedupEnabled = &enabled
	if sc.DedupField != "" {
		v := sc.DedupField
		o.DedupField = &v
	}
	return o
}

// FetchResult は1回のフェッチの結果を表す。
// スケジューラのティックと手動フェッチの両方で同一の形で返される。
type FetchResult struct {
	Success       bool
	ItemsCount    int
	NewItemsCount int
	Error         string
	Items         []FeedItem
}
