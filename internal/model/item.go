package model

import "time"

// FeedItem はフィードパーサーから取得した未保存のアイテムを表す。
// Rawにはパーサーが返した元レコードがそのまま保持され、
// プロバイダ固有フィールド（avatar等）の抽出とraw_dataの保存に使用される。
type FeedItem struct {
	GUID           string
	Link           string
	Title          string
	Content        string // 未サニタイズのHTML
	ContentSnippet string
	Creator        string     // creator/author の生文字列
	ISODate        *time.Time // パース済み公開日時
	PubDate        string     // 生のpubDate文字列
	Enclosure      *Enclosure
	MediaContents  []MediaContent
	Raw            map[string]any
}

// Enclosure はRSSのenclosure要素を表す。
type Enclosure struct {
	URL    string
	Type   string
	Length int64
}

// MediaContent はmedia:content要素を表す。
type MediaContent struct {
	URL string
}

// DedupField は重複判定に使用するフィールドを表す。
type DedupField string

const (
	// DedupFieldGUID はguidによる重複判定。
	DedupFieldGUID DedupField = "guid"
	// DedupFieldLink はlinkによる重複判定。
	DedupFieldLink DedupField = "link"
	// DedupFieldTitle はtitleによる重複判定。
	DedupFieldTitle DedupField = "title"
)

// DedupValue は指定フィールドの値を返す。
// 未知のフィールドや値が空の場合は空文字列を返し、そのアイテムは重複判定の対象外となる。
func (i *FeedItem) DedupValue(field DedupField) string {
	switch field {
	case DedupFieldGUID:
		return i.GUID
	case DedupFieldLink:
		return i.Link
	case DedupFieldTitle:
		return i.Title
	default:
		return ""
	}
}
