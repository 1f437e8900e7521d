// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は投稿本文やプロフィール文言からマークアップを取り除き、
// プレーンテキストとして保存・配信できる形に正規化する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/socialfeed/internal/model"
)

// 文字数の上限（ルーン数）。
const (
	MaxPostBodyLength    = 500
	MaxDisplayNameLength = 64
	MaxBioLength         = 280
)

// TextSanitizer はユーザー入力テキストの正規化機能のインターフェースを定義する。
type TextSanitizer interface {
	// Text は全てのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Text(raw string) string

	// PostBody は投稿本文を正規化し、1文字以上 MaxPostBodyLength 文字以内であることを検証する。
	// 条件を満たさない場合は INVALID_POST_BODY を返す。
	PostBody(raw string) (string, error)

	// Profile はプロフィール更新内容を正規化する。
	// nil のフィールドは変更なしとしてそのまま残す。
	Profile(update model.ProfileUpdate) (model.ProfileUpdate, error)
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// StrictPolicy は全てのタグを除去し、テキストのみを残す。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Text はHTMLタグを除去したプレーンテキストを返す。
// StrictPolicy はテキストをHTMLエスケープして返すため、保存前に元の文字へ戻す。
// 出力時のエスケープはJSONエンコーダとクライアントの責務とする。
func (s *textSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// PostBody は投稿本文を正規化して長さを検証する。
func (s *textSanitizer) PostBody(raw string) (string, error) {
	body := s.Text(raw)
	n := utf8.RuneCountInString(body)
	switch {
	case n == 0:
		return "", model.NewInvalidPostBodyError("本文が空です")
	case n > MaxPostBodyLength:
		return "", model.NewInvalidPostBodyError("本文が長すぎます")
	}
	return body, nil
}

// Profile はプロフィール更新内容を正規化する。
// 表示名は空にできない。自己紹介は空文字列で消去できる。
// アバターURLの安全性検証は URLGuard の責務なので、ここでは前後の空白除去のみ行う。
func (s *textSanitizer) Profile(update model.ProfileUpdate) (model.ProfileUpdate, error) {
	var out model.ProfileUpdate

	if update.DisplayName != nil {
		name := s.Text(*update.DisplayName)
		n := utf8.RuneCountInString(name)
		if n == 0 || n > MaxDisplayNameLength {
			return model.ProfileUpdate{}, model.NewInvalidRequestError("display_name は1文字以上64文字以内で指定してください")
		}
		out.DisplayName = &name
	}

	if update.Bio != nil {
		bio := s.Text(*update.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return model.ProfileUpdate{}, model.NewInvalidRequestError("bio は280文字以内で指定してください")
		}
		out.Bio = &bio
	}

	if update.AvatarURL != nil {
		avatar := strings.TrimSpace(*update.AvatarURL)
		out.AvatarURL = &avatar
	}

	return out, nil
}
