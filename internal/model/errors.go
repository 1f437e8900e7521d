// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, social, feed, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodePostNotFound       = "POST_NOT_FOUND"
	ErrCodeSelfFollow         = "SELF_FOLLOW"
	ErrCodeInvalidDirection   = "INVALID_DIRECTION"
	ErrCodeInvalidCursor      = "INVALID_CURSOR"
	ErrCodeInvalidPostBody    = "INVALID_POST_BODY"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", ref),
		Category: "social",
		Action:   "ユーザーIDまたはハンドルを確認してください。",
	}
}

// NewPostNotFoundError は投稿が存在しない、または削除済みの場合のエラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "feed",
		Action:   "投稿が削除されていないか確認してください。",
	}
}

// NewSelfFollowError は自分自身をフォローしようとした場合のエラーを生成する。
func NewSelfFollowError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfFollow,
		Message:  "自分自身をフォローすることはできません。",
		Category: "validation",
		Action:   "フォローするユーザーを確認してください。",
	}
}

// NewInvalidDirectionError は投票の向きが不正な場合のエラーを生成する。
func NewInvalidDirectionError(direction string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDirection,
		Message:  fmt.Sprintf("無効な投票の向きです: %q", direction),
		Category: "validation",
		Action:   "direction には up または down を指定してください。",
	}
}

// NewInvalidCursorError はページネーションカーソルが不正な場合のエラーを生成する。
func NewInvalidCursorError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCursor,
		Message:  "無効なカーソルです。",
		Category: "validation",
		Action:   "直前のレスポンスの next_cursor をそのまま指定してください。",
	}
}

// NewInvalidPostBodyError は投稿本文が不正な場合のエラーを生成する。
func NewInvalidPostBodyError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPostBody,
		Message:  fmt.Sprintf("投稿本文が不正です: %s", reason),
		Category: "validation",
		Action:   "1文字以上500文字以内で入力してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "公開されている https:// のURLを入力してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewForbiddenError は他のユーザーとして操作しようとした場合のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作は許可されていません: %s", reason),
		Category: "auth",
		Action:   "ログイン中のユーザー自身の操作のみ実行できます。",
	}
}

// NewUnauthorizedError は認証されていない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUnavailableError は外部依存（永続化層、ID ディレクトリ等）が利用できない場合のエラーを生成する。
// 呼び出し元が再試行してよいエラーであることを示す。
func NewUnavailableError(component string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  fmt.Sprintf("%s が一時的に利用できません。", component),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は分類できない内部エラーを生成する。原因はログにのみ残す。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// HasCode はエラーチェーン中に指定コードのAPIErrorが含まれるかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsRetryable は呼び出し元が再試行してよいエラーかどうかを返す。
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeServiceUnavailable)
}
