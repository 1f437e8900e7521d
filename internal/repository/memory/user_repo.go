package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
)

// UserRepo はインメモリのユーザーリポジトリ。
type UserRepo struct {
	mu       sync.RWMutex
	byID     map[string]*model.User
	byHandle map[string]string
}

// NewUserRepo はUserRepoを生成する。
func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:     make(map[string]*model.User),
		byHandle: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *u
	return &clone, nil
}

// FindByHandle はハンドルでユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByHandle(ctx context.Context, handle string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHandle[handle]
	if !ok {
		return nil, nil
	}
	clone := *r.byID[id]
	return &clone, nil
}

// Upsert はユーザーを作成する。既存ユーザーにはハンドルと表示名を未設定の場合にのみ補う。
func (r *UserRepo) Upsert(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[user.ID]
	assignHandle := user.Handle != "" && (!ok || existing.Handle == "")
	if assignHandle {
		if owner, taken := r.byHandle[user.Handle]; taken && owner != user.ID {
			return repository.ErrHandleTaken
		}
	}

	if !ok {
		clone := *user
		r.byID[user.ID] = &clone
		if clone.Handle != "" {
			r.byHandle[clone.Handle] = clone.ID
		}
		return nil
	}

	if assignHandle {
		existing.Handle = user.Handle
		r.byHandle[user.Handle] = user.ID
	}
	if existing.DisplayName == "" {
		existing.DisplayName = user.DisplayName
	}
	existing.UpdatedAt = user.UpdatedAt
	return nil
}

// UpdateProfile は表示名、自己紹介、アバターURLを部分更新する。
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	if update.DisplayName != nil {
		u.DisplayName = *update.DisplayName
	}
	if update.Bio != nil {
		u.Bio = *update.Bio
	}
	if update.AvatarURL != nil {
		u.AvatarURL = *update.AvatarURL
	}
	u.UpdatedAt = time.Now()

	clone := *u
	return &clone, nil
}

var _ repository.UserRepository = (*UserRepo)(nil)
