package ingest

import (
	"reflect"
	"testing"

	"github.com/hitoshi/nitterpost/internal/model"
)

func TestExtractAuthor(t *testing.T) {
	tests := []struct {
		name    string
		creator string
		want    model.Author
	}{
		{
			name:    "スラッシュ区切り形式",
			creator: "Jane Doe / @jane",
			want:    model.Author{ID: "@jane", Name: "Jane Doe", Username: "jane"},
		},
		{
			name:    "括弧形式",
			creator: "Jane Doe (@jane)",
			want:    model.Author{ID: "@jane", Name: "Jane Doe", Username: "jane"},
		},
		{
			name:    "ハンドル単独",
			creator: "@jane",
			want:    model.Author{ID: "@jane", Name: "jane", Username: "jane"},
		},
		{
			name:    "裸トークン",
			creator: "jane",
			want:    model.Author{ID: "jane", Name: "jane", Username: "jane"},
		},
		{
			name:    "フォールバックで埋め込み@トークンを拾う",
			creator: "Some Account: @acct on Nitter",
			want:    model.Author{ID: "Some Account: @acct on Nitter", Name: "Some Account: @acct on Nitter", Username: "acct"},
		},
		{
			name:    "ハンドルを含まないフォールバック",
			creator: "Some Long Name",
			want:    model.Author{ID: "Some Long Name", Name: "Some Long Name"},
		},
		{
			name:    "空文字列はゼロ値",
			creator: "",
			want:    model.Author{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractAuthor(tt.creator); got != tt.want {
				t.Errorf("ExtractAuthor(%q) = %+v, want %+v", tt.creator, got, tt.want)
			}
		})
	}
}

func TestExtractMediaURLs(t *testing.T) {
	t.Run("enclosureとmedia:contentとimgタグを出現順に収集", func(t *testing.T) {
		item := &model.FeedItem{
			Enclosure: &model.Enclosure{URL: "https://example.com/a.jpg"},
			MediaContents: []model.MediaContent{
				{URL: "https://example.com/b.jpg"},
			},
			Content: `<p>text</p><img width="100" src="https://example.com/c.jpg">`,
		}
		want := []string{
			"https://example.com/a.jpg",
			"https://example.com/b.jpg",
			"https://example.com/c.jpg",
		}
		if got := ExtractMediaURLs(item); !reflect.DeepEqual(got, want) {
			t.Errorf("ExtractMediaURLs = %v, want %v", got, want)
		}
	})

	t.Run("完全一致の重複は初出のみ残す", func(t *testing.T) {
		item := &model.FeedItem{
			Enclosure: &model.Enclosure{URL: "https://example.com/a.jpg"},
			Content:   `<img src="https://example.com/a.jpg"><img src="https://example.com/b.jpg">`,
		}
		want := []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}
		if got := ExtractMediaURLs(item); !reflect.DeepEqual(got, want) {
			t.Errorf("ExtractMediaURLs = %v, want %v", got, want)
		}
	})

	t.Run("メディアなしはnil", func(t *testing.T) {
		item := &model.FeedItem{Content: "<p>no images here</p>"}
		if got := ExtractMediaURLs(item); got != nil {
			t.Errorf("ExtractMediaURLs = %v, want nil", got)
		}
	})
}

func TestExtractAvatar(t *testing.T) {
	tests := []struct {
		name string
		item *model.FeedItem
		want string
	}{
		{
			name: "imageフィールド（文字列）",
			item: &model.FeedItem{Raw: map[string]any{"image": "https://example.com/avatar.png"}},
			want: "https://example.com/avatar.png",
		},
		{
			name: "imageフィールド（urlキーを持つオブジェクト）",
			item: &model.FeedItem{Raw: map[string]any{"image": map[string]any{"url": "https://example.com/avatar.png"}}},
			want: "https://example.com/avatar.png",
		},
		{
			name: "別名フィールドへのフォールバック",
			item: &model.FeedItem{Raw: map[string]any{"feedImage": "https://example.com/feed.png"}},
			want: "https://example.com/feed.png",
		},
		{
			name: "コンテンツ走査（profile_images）",
			item: &model.FeedItem{
				Content: `<img src="https://pbs.twimg.com/profile_images/123/photo.jpg"> some text`,
			},
			want: "https://pbs.twimg.com/profile_images/123/photo.jpg",
		},
		{
			name: "imageフィールドが別名フィールドより優先される",
			item: &model.FeedItem{Raw: map[string]any{
				"image":     "https://example.com/primary.png",
				"feedImage": "https://example.com/alias.png",
			}},
			want: "https://example.com/primary.png",
		},
		{
			name: "見つからない場合は空文字列",
			item: &model.FeedItem{Content: "<p>plain text</p>"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractAvatar(tt.item); got != tt.want {
				t.Errorf("ExtractAvatar = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractHashtagsMentions(t *testing.T) {
	t.Run("英数字のタグとメンション", func(t *testing.T) {
		hashtags, mentions := ExtractHashtagsMentions("Great #AI and #MachineLearning news @elonmusk")

		wantTags := []string{"AI", "MachineLearning"}
		wantMentions := []string{"elonmusk"}
		if !reflect.DeepEqual(hashtags, wantTags) {
			t.Errorf("hashtags = %v, want %v", hashtags, wantTags)
		}
		if !reflect.DeepEqual(mentions, wantMentions) {
			t.Errorf("mentions = %v, want %v", mentions, wantMentions)
		}
	})

	t.Run("CJKのタグ", func(t *testing.T) {
		hashtags, _ := ExtractHashtagsMentions("今日の #ニュース と #速報")
		want := []string{"ニュース", "速報"}
		if !reflect.DeepEqual(hashtags, want) {
			t.Errorf("hashtags = %v, want %v", hashtags, want)
		}
	})

	t.Run("重複は除去しない", func(t *testing.T) {
		hashtags, _ := ExtractHashtagsMentions("#AI #AI")
		if len(hashtags) != 2 {
			t.Errorf("len(hashtags) = %d, want 2（重複除去なし）", len(hashtags))
		}
	})

	t.Run("タグもメンションもないテキスト", func(t *testing.T) {
		hashtags, mentions := ExtractHashtagsMentions("plain text only")
		if hashtags != nil || mentions != nil {
			t.Errorf("hashtags = %v, mentions = %v, want nil/nil", hashtags, mentions)
		}
	})
}
