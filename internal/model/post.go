package model

import "time"

// Post はフィードに公開される短い投稿を表す。
// 投票スコアは保持せず、常に投票台帳から導出する。
type Post struct {
	ID        string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time // nil以外の場合は論理削除済み
}

// IsDeleted は投稿が論理削除済みかどうかを返す。
func (p *Post) IsDeleted() bool {
	return p.DeletedAt != nil
}

// ScoredPost は投稿と投票台帳から取得したスコアを結合したモデル。
type ScoredPost struct {
	Post
	Score Score
}

// PostCursor はフィードのキーセットページネーション位置を表す。
// 直前のページ最後の投稿の (created_at, id) の組。
type PostCursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero はカーソルが未指定（先頭から取得）かどうかを返す。
func (c PostCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Before は投稿 p がカーソル位置より後ろ（古い側）に並ぶかどうかを返す。
// 並び順は created_at 降順、同時刻は id 降順。
func (c PostCursor) Before(p *Post) bool {
	if c.IsZero() {
		return true
	}
	if p.CreatedAt.Equal(c.CreatedAt) {
		return p.ID < c.ID
	}
	return p.CreatedAt.Before(c.CreatedAt)
}

// CursorOf は投稿の位置を表すカーソルを返す。
func CursorOf(p *Post) PostCursor {
	return PostCursor{CreatedAt: p.CreatedAt, ID: p.ID}
}
