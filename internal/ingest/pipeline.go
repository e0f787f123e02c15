// Package ingest はパース済みフィードアイテムの正規化と保存を提供する。
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/nitterpost/internal/model"
	"github.com/hitoshi/nitterpost/internal/repository"
)

// Sanitizer はHTMLサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	StripTags(rawHTML string) string
}

// titleMaxLength はタイトルカラムの最大文字数。超過分は切り詰める。
const titleMaxLength = 500

// Pipeline はフィードアイテム1件をポストとして取り込む処理を実装する。
// 重複判定、external_id解決、公開日時解決、メタデータ抽出、
// サニタイズ、保存を1つのメソッドで行う。
type Pipeline struct {
	postRepo  repository.PostRepository
	sanitizer Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
func NewPipeline(postRepo repository.PostRepository, sanitizer Sanitizer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		postRepo:  postRepo,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// SaveItem はアイテム1件をポストとして保存する。
// 戻り値は (新規に挿入されたか, エラー)。重複はエラーではなく (false, nil) を返す。
// ストレージエラーはそのまま呼び出し元に伝播する。呼び出し元がアイテム単位で
// 捕捉するため、1件の失敗がバッチ全体を中断させることはない。
//
// 重複判定は2段階で行われる。まず設定された判定フィールドの値で既存ポストを
// 検索し、さらに挿入時の(subscription_id, external_id)ユニーク制約により
// 並行フェッチ間のレースでも二重挿入が起きないことが保証される。
func (p *Pipeline) SaveItem(ctx context.Context, item *model.FeedItem, sub *model.Subscription, cfg model.FetchConfig) (bool, error) {
	// 重複チェック: 判定フィールドの値が空のアイテムは重複と見なされない
	if cfg.Dedup.Enabled {
		if key := item.DedupValue(cfg.Dedup.Field); key != "" {
			existing, err := p.postRepo.FindByExternalID(ctx, sub.ID, key)
			if err != nil {
				return false, model.NewPersistenceError(err.Error())
			}
			if existing != nil {
				p.logger.Debug("既存のアイテムをスキップします",
					slog.Int64("subscription_id", sub.ID),
					slog.String("dedup_key", key),
				)
				return false, nil
			}
		}
	}

	// external_idの解決: guid → link → 合成フォールバック
	externalID := item.GUID
	if externalID == "" {
		externalID = item.Link
	}
	if externalID == "" {
		externalID = fmt.Sprintf("%d-%d", sub.ID, p.now().UnixMilli())
	}

	publishedAt := p.resolvePublishedAt(item)

	mediaURLs := ExtractMediaURLs(item)
	author := ExtractAuthor(item.Creator)
	avatar := ExtractAvatar(item)

	text := item.Content
	if text == "" {
		text = item.Title
	}
	hashtags, mentions := ExtractHashtagsMentions(text)

	contentType := model.ContentTypeText
	if len(mediaURLs) > 0 {
		contentType = model.ContentTypeMixed
	}

	content := item.Content
	if content == "" {
		content = item.ContentSnippet
	}

	// raw_dataにはパーサーが返した元レコードを未サニタイズのまま保持する
	var rawData []byte
	if item.Raw != nil {
		data, err := json.Marshal(item.Raw)
		if err != nil {
			p.logger.Warn("raw_dataの変換に失敗しました",
				slog.Int64("subscription_id", sub.ID),
				slog.String("error", err.Error()),
			)
		} else {
			rawData = data
		}
	}

	now := p.now()
	post := &model.Post{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		ExternalID:     externalID,
		Title:          truncate(p.sanitizer.StripTags(item.Title), titleMaxLength),
		Content:        p.sanitizer.Sanitize(content),
		Type:           model.PostTypeOriginal,
		ContentType:    contentType,
		SourceType:     model.SourceTypeFor(sub.Type),
		RSSSource:      item.Link,
		LinkURL:        item.Link,
		RawData:        rawData,
		AuthorID:       author.ID,
		AuthorName:     author.Name,
		AuthorUsername: author.Username,
		AuthorAvatar:   avatar,
		MediaURLs:      mediaURLs,
		Hashtags:       hashtags,
		Mentions:       mentions,
		PublishedAt:    publishedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := p.postRepo.Create(ctx, post)
	if err != nil {
		return false, model.NewPersistenceError(err.Error())
	}
	return inserted, nil
}

// pubDateLayouts は生のpubDate文字列の解析に試行するレイアウト。
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// resolvePublishedAt は公開日時を解決する。
// パース済み日時 → 生のpubDate文字列の解析 → 取り込み時刻の順で決定する。
func (p *Pipeline) resolvePublishedAt(item *model.FeedItem) time.Time {
	if item.ISODate != nil {
		return *item.ISODate
	}
	if item.PubDate != "" {
		for _, layout := range pubDateLayouts {
			if t, err := time.Parse(layout, item.PubDate); err == nil {
				return t
			}
		}
	}
	return p.now()
}

// truncate は文字列を指定文字数（rune単位）に切り詰める。
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
