package model

import "time"

// Post は取り込み済みのフィードアイテム1件を表す。
// external_idは購読内で一意（(subscription_id, external_id)のユニーク制約）。
// 作成後は不変で、is_deleted等のソフト削除フラグのみ外部のコンテンツ管理面が更新する。
type Post struct {
	ID             string
	SubscriptionID int64
	ExternalID     string
	Title          string
	Content        string // サニタイズ済みHTML
	Type           PostType
	ContentType    ContentType
	SourceType     SourceType
	RSSSource      string
	LinkURL        string
	RawData        []byte // 元のフィードアイテムのJSON（未サニタイズのまま保持）
	AuthorID       string
	AuthorName     string
	AuthorUsername string
	AuthorAvatar   string
	AuthorVerified bool
	MediaURLs      []string
	Hashtags       []string
	Mentions       []string
	PublishedAt    time.Time
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PostType はポストの種別を表す。
type PostType string

const (
	// PostTypeOriginal はオリジナル投稿。
	PostTypeOriginal PostType = "original"
	// PostTypeRepost はリポスト。
	PostTypeRepost PostType = "repost"
	// PostTypeQuote は引用投稿。
	PostTypeQuote PostType = "quote"
)

// ContentType はポストの内容分類を表す。
type ContentType string

const (
	// ContentTypeText はテキストのみのポスト。
	ContentTypeText ContentType = "text"
	// ContentTypeImage は画像ポスト。
	ContentTypeImage ContentType = "image"
	// ContentTypeVideo は動画ポスト。
	ContentTypeVideo ContentType = "video"
	// ContentTypeLink はリンクポスト。
	ContentTypeLink ContentType = "link"
	// ContentTypeMixed はメディアを含む複合ポスト。
	ContentTypeMixed ContentType = "mixed"
)

// Author はフィードアイテムから抽出した作者情報を表す。
type Author struct {
	ID       string
	Name     string
	Username string
	Avatar   string
}
