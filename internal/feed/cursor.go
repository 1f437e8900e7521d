package feed

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialfeed/internal/model"
)

// cursorSeparator は作成日時と投稿IDの区切り文字。RFC3339Nano にもUUIDにも現れない。
const cursorSeparator = "|"

// EncodeCursor はカーソルを不透明なトークンに変換する。
// ゼロ値のカーソルは空文字列になる。
func EncodeCursor(c model.PostCursor) string {
	if c.IsZero() {
		return ""
	}
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorSeparator + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor はトークンをカーソルに戻す。
// 空文字列は先頭ページを表すゼロ値のカーソルになる。
// 形式が不正な場合は INVALID_CURSOR を返す。
func DecodeCursor(token string) (model.PostCursor, error) {
	if token == "" {
		return model.PostCursor{}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return model.PostCursor{}, model.NewInvalidCursorError()
	}

	ts, id, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return model.PostCursor{}, model.NewInvalidCursorError()
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.PostCursor{}, model.NewInvalidCursorError()
	}
	if err := uuid.Validate(id); err != nil {
		return model.PostCursor{}, model.NewInvalidCursorError()
	}

	return model.PostCursor{CreatedAt: createdAt, ID: id}, nil
}
