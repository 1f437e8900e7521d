package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, COALESCE(handle, ''), display_name, bio, avatar_url, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Handle, &user.DisplayName, &user.Bio, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByHandle はハンドルでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByHandle(ctx context.Context, handle string) (*model.User, error) {
	if handle == "" {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE handle = $1`,
		handle,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by handle: %w", err)
	}
	return user, nil
}

// Upsert はユーザーを作成または更新する。
// 既存ユーザーに対してはハンドルと表示名を未設定の場合にのみ補い、設定済みの値は変更しない。
// 表示名・自己紹介・アバターの変更はUpdateProfileでのみ行う。
// ハンドルが別ユーザーに使用されている場合は ErrHandleTaken を返す。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, handle, display_name, bio, avatar_url, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   handle = COALESCE(users.handle, EXCLUDED.handle),
		   display_name = CASE WHEN users.display_name = '' THEN EXCLUDED.display_name ELSE users.display_name END,
		   updated_at = EXCLUDED.updated_at`,
		user.ID, user.Handle, user.DisplayName, user.Bio, user.AvatarURL, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrHandleTaken
	}
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdateProfile は表示名、自己紹介、アバターURLを部分更新する。
// ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		   display_name = COALESCE($2, display_name),
		   bio = COALESCE($3, bio),
		   avatar_url = COALESCE($4, avatar_url),
		   updated_at = $5
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, update.DisplayName, update.Bio, update.AvatarURL, time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
