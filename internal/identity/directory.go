// Package identity はユーザーIDとハンドルの解決を行うIDディレクトリを提供する。
// ユーザーレコードはアカウントストアのコピーであり、検証済みトークンのクレームから同期する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
)

const component = "IDディレクトリ"

// Claims はアカウントストアが発行したトークンから得られるユーザー情報。
type Claims struct {
	UserID      string
	Handle      string
	DisplayName string
}

// BreakerConfig はIDディレクトリのサーキットブレーカー設定。
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold float64
}

// DefaultBreakerConfig は既定のブレーカー設定を返す。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.5,
	}
}

// Directory はIDディレクトリ。
// 永続化層への接続障害が続いた場合はブレーカーを開き、以降の呼び出しを即座に SERVICE_UNAVAILABLE にする。
type Directory struct {
	users  repository.UserRepository
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewDirectory はDirectoryを生成する。
func NewDirectory(users repository.UserRepository, cfg BreakerConfig, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{users: users, logger: logger}
	d.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-directory",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// 接続障害のみを失敗として数える
		IsSuccessful: func(err error) bool {
			return err == nil || !repository.IsUnavailable(err)
		},
	})
	return d
}

// execute はブレーカー越しにfnを実行し、接続障害を SERVICE_UNAVAILABLE に変換する。
func execute[T any](d *Directory, fn func() (T, error)) (T, error) {
	v, err := d.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || repository.IsUnavailable(err) {
			return zero, model.NewUnavailableError(component, err)
		}
		return zero, err
	}
	return v.(T), nil
}

// NormalizeHandle は先頭の@と前後の空白を取り除く。
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// Resolve はハンドルをユーザーIDに解決する。
// 解決できない場合は USER_NOT_FOUND を返す。
func (d *Directory) Resolve(ctx context.Context, handle string) (string, error) {
	h := NormalizeHandle(handle)
	if h == "" {
		return "", model.NewUserNotFoundError(handle)
	}

	user, err := execute(d, func() (*model.User, error) {
		return d.users.FindByHandle(ctx, h)
	})
	if err != nil {
		return "", fmt.Errorf("resolve handle: %w", err)
	}
	if user == nil {
		return "", model.NewUserNotFoundError(handle)
	}
	return user.ID, nil
}

// Lookup はユーザーIDからユーザーレコードを取得する。
// 存在しない場合は USER_NOT_FOUND を返す。
func (d *Directory) Lookup(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, model.NewUserNotFoundError(id)
	}

	user, err := execute(d, func() (*model.User, error) {
		return d.users.FindByID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return user, nil
}

// Sync は検証済みクレームの内容でユーザーレコードを作成し、未割り当ての項目を補う。
// ハンドルと表示名は空の場合にのみ設定され、プロフィール編集で変更した値は上書きしない。
// 他ユーザーがハンドルを使用中の場合はハンドルなしで同期する。
// 補う項目がない既存ユーザーに対しては書き込みを行わない。
func (d *Directory) Sync(ctx context.Context, claims Claims) (*model.User, error) {
	if claims.UserID == "" {
		return nil, model.NewUnauthorizedError()
	}

	now := time.Now()
	user := &model.User{
		ID:          claims.UserID,
		Handle:      NormalizeHandle(claims.Handle),
		DisplayName: strings.TrimSpace(claims.DisplayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := execute(d, func() (*model.User, error) {
		return d.users.FindByID(ctx, user.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("sync user: %w", err)
	}
	if existing != nil && !needsSync(existing, user) {
		return existing, nil
	}

	_, err = execute(d, func() (struct{}, error) {
		return struct{}{}, d.users.Upsert(ctx, user)
	})
	if errors.Is(err, repository.ErrHandleTaken) {
		d.logger.Warn("handle already taken, syncing without handle",
			slog.String("user_id", user.ID),
			slog.String("handle", user.Handle),
		)
		user.Handle = ""
		_, err = execute(d, func() (struct{}, error) {
			return struct{}{}, d.users.Upsert(ctx, user)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("sync user: %w", err)
	}

	return d.Lookup(ctx, user.ID)
}

// needsSync はクレームに既存レコードの空欄を埋める値があるかどうかを返す。
func needsSync(existing, claimed *model.User) bool {
	return (existing.Handle == "" && claimed.Handle != "") ||
		(existing.DisplayName == "" && claimed.DisplayName != "")
}

// UpdateProfile はユーザーのプロフィールを部分更新する。
func (d *Directory) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	user, err := execute(d, func() (*model.User, error) {
		return d.users.UpdateProfile(ctx, id, update)
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return user, nil
}
