package ingest

import (
	"regexp"
	"strings"

	"github.com/hitoshi/nitterpost/internal/model"
)

// 作者文字列の解析パターン。上から順に照合し、最初に一致したものを採用する。
var (
	// "Full Name / @handle" 形式
	authorSlashPattern = regexp.MustCompile(`^(.+?)\s*/\s*@(\w+)$`)
	// "Full Name (@handle)" 形式
	authorParenPattern = regexp.MustCompile(`^(.+?)\s*\(\s*@(\w+)\s*\)$`)
	// "@handle" 単独形式
	authorHandlePattern = regexp.MustCompile(`^@(\w+)$`)
	// 区切りなしの裸トークン
	authorBarePattern = regexp.MustCompile(`^\w+$`)
	// フォールバック用: 文字列中の@トークン
	authorAnyHandlePattern = regexp.MustCompile(`@(\w+)`)
)

// ExtractAuthor はフィードのcreator/author文字列から作者情報を抽出する。
// 空文字列の場合はゼロ値のAuthorを返す。
func ExtractAuthor(creator string) model.Author {
	if creator == "" {
		return model.Author{}
	}

	if m := authorSlashPattern.FindStringSubmatch(creator); m != nil {
		return model.Author{
			ID:       "@" + m[2],
			Name:     strings.TrimSpace(m[1]),
			Username: m[2],
		}
	}

	if m := authorParenPattern.FindStringSubmatch(creator); m != nil {
		return model.Author{
			ID:       "@" + m[2],
			Name:     strings.TrimSpace(m[1]),
			Username: m[2],
		}
	}

	if m := authorHandlePattern.FindStringSubmatch(creator); m != nil {
		return model.Author{
			ID:       creator,
			Name:     m[1],
			Username: m[1],
		}
	}

	if authorBarePattern.MatchString(creator) {
		return model.Author{
			ID:       creator,
			Name:     creator,
			Username: creator,
		}
	}

	// フォールバック: 生文字列を名前とし、@トークンが含まれていればhandleに採用する
	author := model.Author{
		ID:   creator,
		Name: creator,
	}
	if m := authorAnyHandlePattern.FindStringSubmatch(creator); m != nil {
		author.Username = m[1]
	}
	return author
}

// imgSrcPattern はHTMLコンテンツ中のimgタグのsrc属性を抽出する。
var imgSrcPattern = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)

// ExtractMediaURLs はアイテムからメディアURLを抽出する。
// enclosure、media:content、コンテンツ中のimgタグの順に収集し、
// 完全一致で重複を除去する（出現順は保持）。
func ExtractMediaURLs(item *model.FeedItem) []string {
	var urls []string

	if item.Enclosure != nil && item.Enclosure.URL != "" {
		urls = append(urls, item.Enclosure.URL)
	}

	for _, mc := range item.MediaContents {
		if mc.URL != "" {
			urls = append(urls, mc.URL)
		}
	}

	if item.Content != "" {
		for _, m := range imgSrcPattern.FindAllStringSubmatch(item.Content, -1) {
			urls = append(urls, m[1])
		}
	}

	if len(urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(urls))
	result := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		result = append(result, u)
	}
	return result
}

// avatarStrategy はアバターURL抽出の1戦略を表す。
// 戦略は副作用を持たない純粋関数で、見つからない場合は空文字列を返す。
type avatarStrategy struct {
	name    string
	extract func(item *model.FeedItem) string
}

// avatarStrategies は優先順位順のアバター抽出戦略。
// プロバイダ固有の新しいフィールド名への対応は、この一覧への追加で行う。
var avatarStrategies = []avatarStrategy{
	{name: "item_image", extract: avatarFromItemImage},
	{name: "alias_fields", extract: avatarFromAliasFields},
	{name: "content_scan", extract: avatarFromContent},
}

// ExtractAvatar はアイテムからアバターURLを抽出する。
// 戦略を優先順位順に試し、最初に見つかったURLを返す。
// 見つからない場合は空文字列を返す（エラーにはならない）。
func ExtractAvatar(item *model.FeedItem) string {
	for _, strategy := range avatarStrategies {
		if url := strategy.extract(item); url != "" {
			return url
		}
	}
	return ""
}

// avatarFromItemImage はアイテム直下のimageフィールドからURLを取得する。
// RSShub形式のオブジェクト（{url: ...}）と文字列の両方に対応する。
func avatarFromItemImage(item *model.FeedItem) string {
	if item.Raw == nil {
		return ""
	}
	return imageFieldURL(item.Raw["image"])
}

// avatarAliasFields はプロバイダごとに異なるimage系フィールド名の一覧。
var avatarAliasFields = []string{
	"feedImage", "feed:image", "channel:image",
	"authorImage", "author:image", "creatorImage",
}

// avatarFromAliasFields は既知の別名フィールドからURLを取得する。
func avatarFromAliasFields(item *model.FeedItem) string {
	if item.Raw == nil {
		return ""
	}
	for _, field := range avatarAliasFields {
		if url := imageFieldURL(item.Raw[field]); url != "" {
			return url
		}
	}
	return ""
}

// avatarContentPatterns はコンテンツ中のアバターURLの既知パターン。
var avatarContentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://[^"'\s]*profile_images[^"'\s]*`),
	regexp.MustCompile(`https?://[^"'\s]*avatar[^"'\s]*`),
	regexp.MustCompile(`https?://pbs\.twimg\.com/profile_images[^"'\s]*`),
}

// avatarFromContent はHTMLコンテンツから既知パターンのアバターURLを走査する。
func avatarFromContent(item *model.FeedItem) string {
	if item.Content == "" {
		return ""
	}
	for _, pattern := range avatarContentPatterns {
		if m := pattern.FindString(item.Content); m != "" {
			return m
		}
	}
	return ""
}

// imageFieldURL は文字列またはurlキーを持つオブジェクトからURLを取り出す。
func imageFieldURL(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		if url, ok := v["url"].(string); ok {
			return url
		}
	}
	return ""
}

// ハッシュタグとメンションの抽出パターン。
// CJK等の非ASCII文字を含むタグに対応するためUnicodeクラスで照合する。
var (
	hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)
)

// ExtractHashtagsMentions はテキストからハッシュタグとメンションを抽出する。
// 先頭のマーカーを除去した値を出現順に返す。
// 重複除去と大文字小文字の正規化は行わない（同じタグが複数回出現すれば複数回含まれる）。
func ExtractHashtagsMentions(text string) (hashtags []string, mentions []string) {
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		hashtags = append(hashtags, m[1])
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, m[1])
	}
	return hashtags, mentions
}
