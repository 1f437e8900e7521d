package model

import "time"

// User はサービス利用ユーザーを表す。
// アカウントストア（外部）が正とするレコードのコピーであり、
// フォロー関係と投票台帳からはIDのみで参照される。
type User struct {
	ID          string
	Handle      string // 空の場合はハンドル未割り当て
	DisplayName string
	Bio         string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasHandle はハンドルが割り当て済みかどうかを返す。
func (u *User) HasHandle() bool {
	return u.Handle != ""
}

// ProfileUpdate はプロフィール編集の部分更新内容を表す。
// nilフィールドは変更しない。
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	AvatarURL   *string
}

// IsEmpty は更新対象フィールドが1つも指定されていないかどうかを返す。
func (p ProfileUpdate) IsEmpty() bool {
	return p.DisplayName == nil && p.Bio == nil && p.AvatarURL == nil
}
