// Package relationship はユーザー間のフォロー関係を管理する。
package relationship

import (
	"context"
	"fmt"

	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
)

// UserLookup はユーザーの存在確認に使用するIDディレクトリのインターフェース。
type UserLookup interface {
	Lookup(ctx context.Context, id string) (*model.User, error)
}

// Service はフォロー関係のビジネスロジックを提供する。
type Service struct {
	follows repository.FollowRepository
	users   UserLookup
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(follows repository.FollowRepository, users UserLookup, m metrics.MetricsCollector) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{follows: follows, users: users, metrics: m}
}

// Follow は follower が followee をフォローする。
// 既にフォローしている場合も成功として扱う。
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return model.NewSelfFollowError()
	}
	if err := s.ensureUsers(ctx, followerID, followeeID); err != nil {
		return err
	}

	created, err := s.follows.Add(ctx, followerID, followeeID)
	if err != nil {
		return wrapStoreError("follow", err)
	}
	s.metrics.RecordFollow("follow", created)
	return nil
}

// Unfollow はフォローを解除する。フォローしていない場合（自分自身や未知のユーザーを含む）も成功として扱う。
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return nil
	}

	removed, err := s.follows.Remove(ctx, followerID, followeeID)
	if err != nil {
		return wrapStoreError("unfollow", err)
	}
	s.metrics.RecordFollow("unfollow", removed)
	return nil
}

// Followers は userID のフォロワーをID昇順で返す。
func (s *Service) Followers(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.users.Lookup(ctx, userID); err != nil {
		return nil, err
	}
	ids, err := s.follows.Followers(ctx, userID)
	if err != nil {
		return nil, wrapStoreError("followers", err)
	}
	return ids, nil
}

// Following は userID のフォロー先をID昇順で返す。
func (s *Service) Following(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.users.Lookup(ctx, userID); err != nil {
		return nil, err
	}
	ids, err := s.follows.Following(ctx, userID)
	if err != nil {
		return nil, wrapStoreError("following", err)
	}
	return ids, nil
}

// IsFollowing は follower が followee をフォローしているかどうかを返す。
func (s *Service) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	if followerID == followeeID {
		return false, nil
	}
	ok, err := s.follows.Exists(ctx, followerID, followeeID)
	if err != nil {
		return false, wrapStoreError("is following", err)
	}
	return ok, nil
}

// Counts はフォロワー数とフォロー数を返す。
func (s *Service) Counts(ctx context.Context, userID string) (followers, following int, err error) {
	followers, following, err = s.follows.Counts(ctx, userID)
	if err != nil {
		return 0, 0, wrapStoreError("counts", err)
	}
	return followers, following, nil
}

func (s *Service) ensureUsers(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.users.Lookup(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func wrapStoreError(op string, err error) error {
	if repository.IsUnavailable(err) {
		return model.NewUnavailableError("データベース", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
