package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/nitterpost/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用したポストリポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// FindByExternalID は購読IDとexternal_idでポストを検索する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByExternalID(ctx context.Context, subscriptionID int64, externalID string) (*model.Post, error) {
	post := &model.Post{}
	var title, content, rssSource, linkURL sql.NullString
	var authorID, authorName, authorUsername, authorAvatar sql.NullString
	var rawData, mediaURLs, hashtags, mentions []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, external_id, title, content, type, content_type,
		        source_type, rss_source, link_url, raw_data,
		        author_id, author_name, author_username, author_avatar, author_verified,
		        media_urls, hashtags, mentions, published_at, is_deleted,
		        created_at, updated_at
		 FROM posts
		 WHERE subscription_id = $1 AND external_id = $2`,
		subscriptionID, externalID,
	).Scan(
		&post.ID, &post.SubscriptionID, &post.ExternalID, &title, &content, &post.Type, &post.ContentType,
		&post.SourceType, &rssSource, &linkURL, &rawData,
		&authorID, &authorName, &authorUsername, &authorAvatar, &post.AuthorVerified,
		&mediaURLs, &hashtags, &mentions, &post.PublishedAt, &post.IsDeleted,
		&post.CreatedAt, &post.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ポストの検索に失敗しました: %w", err)
	}

	post.Title = nullStringValue(title)
	post.Content = nullStringValue(content)
	post.RSSSource = nullStringValue(rssSource)
	post.LinkURL = nullStringValue(linkURL)
	post.AuthorID = nullStringValue(authorID)
	post.AuthorName = nullStringValue(authorName)
	post.AuthorUsername = nullStringValue(authorUsername)
	post.AuthorAvatar = nullStringValue(authorAvatar)
	post.RawData = rawData

	if err := unmarshalStringSlice(mediaURLs, &post.MediaURLs); err != nil {
		return nil, fmt.Errorf("media_urlsの解析に失敗しました: %w", err)
	}
	if err := unmarshalStringSlice(hashtags, &post.Hashtags); err != nil {
		return nil, fmt.Errorf("hashtagsの解析に失敗しました: %w", err)
	}
	if err := unmarshalStringSlice(mentions, &post.Mentions); err != nil {
		return nil, fmt.Errorf("mentionsの解析に失敗しました: %w", err)
	}

	return post, nil
}

// Create はポストを挿入する。
// (subscription_id, external_id)のユニーク制約と競合した場合は
// ON CONFLICT DO NOTHING により挿入をスキップし、falseを返す。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) (bool, error) {
	mediaURLs, err := marshalStringSlice(post.MediaURLs)
	if err != nil {
		return false, fmt.Errorf("media_urlsの変換に失敗しました: %w", err)
	}
	hashtags, err := marshalStringSlice(post.Hashtags)
	if err != nil {
		return false, fmt.Errorf("hashtagsの変換に失敗しました: %w", err)
	}
	mentions, err := marshalStringSlice(post.Mentions)
	if err != nil {
		return false, fmt.Errorf("mentionsの変換に失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, subscription_id, external_id, title, content, type,
		                    content_type, source_type, rss_source, link_url, raw_data,
		                    author_id, author_name, author_username, author_avatar,
		                    author_verified, media_urls, hashtags, mentions,
		                    published_at, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		         $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		 ON CONFLICT (subscription_id, external_id) DO NOTHING`,
		post.ID, post.SubscriptionID, post.ExternalID,
		nullString(post.Title), nullString(post.Content), post.Type,
		post.ContentType, post.SourceType,
		nullString(post.RSSSource), nullString(post.LinkURL), post.RawData,
		nullString(post.AuthorID), nullString(post.AuthorName),
		nullString(post.AuthorUsername), nullString(post.AuthorAvatar),
		post.AuthorVerified, mediaURLs, hashtags, mentions,
		post.PublishedAt, post.IsDeleted, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ポストの挿入に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入結果の取得に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// marshalStringSlice は文字列スライスをJSONB用のバイト列に変換する。
// 空スライスはNULLとして保存する（参照実装は空リストをnullカラムで表現する）。
func marshalStringSlice(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

// unmarshalStringSlice はJSONBのバイト列を文字列スライスに変換する。
func unmarshalStringSlice(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
