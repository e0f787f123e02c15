// Package feedsource はRSS/Atomフィードの取得とパースを提供する。
//
// HTTPSource はSSRF検証付きのHTTPクライアントでフィードを取得し、
// gofeedでパースした結果をmodel.FeedItemに変換する。
// 取得失敗はFETCH_FAILED、パース失敗はPARSE_FAILEDとして区別され、
// 呼び出し側は前者のみを再試行の対象とする。
package feedsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/nitterpost/internal/model"
)

// Source はフィード取得とパースのインターフェース。
type Source interface {
	// FetchAndParse は指定URLのフィードを取得してパースし、アイテムの一覧を返す。
	// cfg.Timeoutで取得を打ち切り、cfg.UserAgent/cfg.Headersをリクエストに適用する。
	// アイテム0件のフィードはエラーではなく空スライスを返す。
	FetchAndParse(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// HTTPSource はHTTP経由のフィード取得を実装する。
type HTTPSource struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	maxBodySize int64
}

// NewHTTPSource はHTTPSourceの新しいインスタンスを生成する。
func NewHTTPSource(ssrfGuard SSRFValidator, logger *slog.Logger, maxBodySize int64) *HTTPSource {
	return &HTTPSource{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// FetchAndParse はフィードを取得してパースする。
func (s *HTTPSource) FetchAndParse(ctx context.Context, feedURL string, cfg model.FetchConfig) ([]model.FeedItem, error) {
	// SSRF検証
	if err := s.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}

	// タイムアウトはコンテキストで制御する。クライアント側のタイムアウトと
	// 二重になるが、呼び出し元のキャンセルも同時に尊重される。
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client := s.ssrfGuard.NewSafeClient(cfg.Timeout, s.maxBodySize)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}

	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		s.logger.Error("フィードのHTTPリクエストに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("フィードが非2xxステータスを返しました",
			slog.String("feed_url", feedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	// レスポンスボディを読み込み（最大サイズ制限付き）
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, model.NewFetchFailedError(fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()))
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		s.logger.Error("フィードのパースに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError(err.Error())
	}

	items := convertGofeedItems(parsedFeed.Items)

	s.logger.Info("フィードを取得しました",
		slog.String("feed_url", feedURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return items, nil
}

// convertGofeedItems はgofeedの記事をmodel.FeedItemに変換する。
func convertGofeedItems(items []*gofeed.Item) []model.FeedItem {
	feedItems := make([]model.FeedItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		feedItem := model.FeedItem{
			GUID:           item.GUID,
			Link:           item.Link,
			Title:          item.Title,
			Content:        item.Content,
			ContentSnippet: item.Description,
			PubDate:        item.Published,
			Raw:            itemRawMap(item),
		}

		// 著者情報
		if item.Author != nil {
			feedItem.Creator = item.Author.Name
		}
		if feedItem.Creator == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			feedItem.Creator = item.Authors[0].Name
		}

		// 公開日時
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			feedItem.ISODate = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			feedItem.ISODate = &t
		}

		// Contentが空の場合はDescriptionを使用
		if feedItem.Content == "" && item.Description != "" {
			feedItem.Content = item.Description
		}

		// enclosure: 先頭の1件を採用する
		if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
			enc := item.Enclosures[0]
			length, _ := strconv.ParseInt(enc.Length, 10, 64)
			feedItem.Enclosure = &model.Enclosure{
				URL:    enc.URL,
				Type:   enc.Type,
				Length: length,
			}
		}

		feedItem.MediaContents = mediaContentsFrom(item)

		feedItems = append(feedItems, feedItem)
	}

	return feedItems
}

// mediaContentsFrom はmedia:content拡張からURLを抽出する。
func mediaContentsFrom(item *gofeed.Item) []model.MediaContent {
	mediaExt, ok := item.Extensions["media"]
	if !ok {
		return nil
	}
	contents, ok := mediaExt["content"]
	if !ok {
		return nil
	}

	var result []model.MediaContent
	for _, content := range contents {
		if url := content.Attrs["url"]; url != "" {
			result = append(result, model.MediaContent{URL: url})
		}
	}
	return result
}

// itemRawMap はgofeedの記事を汎用マップに変換する。
// raw_dataカラムへの保存とプロバイダ固有フィールドの抽出に使用される。
// 変換に失敗した場合はnilを返す（取り込み自体は継続する）。
func itemRawMap(item *gofeed.Item) map[string]any {
	data, err := json.Marshal(item)
	if err != nil {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// compile-time interface check
var _ Source = (*HTTPSource)(nil)
