// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
)

// ErrPostNotFound は投票対象の投稿が存在しない、または論理削除済みの場合に返される。
var ErrPostNotFound = errors.New("post not found")

// UserRepository はユーザーデータ（アカウントストアのコピー）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByHandle はハンドルでユーザーを取得する。見つからない場合はnilを返す。
	FindByHandle(ctx context.Context, handle string) (*model.User, error)

	// Upsert はユーザーを作成または更新する。
	// 既存ユーザーのハンドルは未割り当ての場合にのみ設定し、割り当て済みのハンドルは変更しない。
	Upsert(ctx context.Context, user *model.User) error

	// UpdateProfile は表示名、自己紹介、アバターURLを部分更新する。
	// nilフィールドは変更しない。ユーザーが存在しない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
}

// FollowRepository はフォロー関係の永続化インターフェース。
// 1つの関係に対して followers / following の2つのアクセス経路を提供する。
type FollowRepository interface {
	// Add はエッジ follower→followee を作成する。既に存在する場合は何もしない。
	// 作成した場合はtrueを返す。
	Add(ctx context.Context, followerID, followeeID string) (bool, error)

	// Remove はエッジを削除する。存在しない場合は何もしない。
	// 削除した場合はtrueを返す。
	Remove(ctx context.Context, followerID, followeeID string) (bool, error)

	// Exists はエッジが存在するかどうかを返す。
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)

	// Followers は userID をフォローしているユーザーIDをID昇順で返す。
	Followers(ctx context.Context, userID string) ([]string, error)

	// Following は userID がフォローしているユーザーIDをID昇順で返す。
	Following(ctx context.Context, userID string) ([]string, error)

	// Counts はフォロワー数とフォロー数を返す。
	Counts(ctx context.Context, userID string) (followers, following int, err error)
}

// VoteRepository は投票台帳の永続化インターフェース。
type VoteRepository interface {
	// Apply は (voter, post) セルを排他した状態で現在の状態を読み取り、
	// next の返す状態を書き込む。VoteNone の場合はレコードを削除する。
	// 投稿が存在しない、または論理削除済みの場合は ErrPostNotFound を返す。
	Apply(ctx context.Context, voterID, postID string, next func(current model.VoteDirection) model.VoteDirection) (previous, current model.VoteDirection, err error)

	// Direction は投票者の現在の状態を返す。投票がない場合は VoteNone を返す。
	Direction(ctx context.Context, voterID, postID string) (model.VoteDirection, error)

	// Score は現在の投票レコードから投稿のスコアを集計する。
	Score(ctx context.Context, postID string) (model.Score, error)

	// Scores は複数投稿のスコアをまとめて集計する。投票のない投稿はゼロ値になる。
	Scores(ctx context.Context, postIDs []string) (map[string]model.Score, error)
}

// PostRepository は投稿の永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// FindByID は指定IDの投稿を取得する（論理削除済みを含む）。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// UpdateBody は本文と編集日時を更新する。論理削除済みの投稿は更新しない。
	// 更新した場合はtrueを返す。
	UpdateBody(ctx context.Context, id, body string, editedAt time.Time) (bool, error)

	// SoftDelete は投稿を論理削除する。既に削除済みの場合は何もしない。
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) (bool, error)

	// ListByAuthor は作者の未削除投稿を (created_at, id) 降順で、cursor より後ろから最大limit件返す。
	ListByAuthor(ctx context.Context, authorID string, cursor model.PostCursor, limit int) ([]*model.Post, error)

	// ListRecent は全作者の未削除投稿を (created_at, id) 降順で、cursor より後ろから最大limit件返す。
	ListRecent(ctx context.Context, cursor model.PostCursor, limit int) ([]*model.Post, error)

	// PurgeDeletedBefore は指定日時より前に論理削除された投稿を物理削除し、削除件数を返す。
	// 投稿に紐づく投票も削除される。
	PurgeDeletedBefore(ctx context.Context, before time.Time) (int64, error)
}
