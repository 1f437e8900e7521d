package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresFollowRepo はPostgreSQLを使用したフォロー関係リポジトリ。
// follows テーブルの主キー (follower_id, followee_id) が following 方向、
// followee_id のインデックスが followers 方向のアクセス経路になる。
// 両経路は同じ行を参照するため、書き込み直後から双方に反映される。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// Add はエッジを作成する。既に存在する場合はfalseを返す。
func (r *PostgresFollowRepo) Add(ctx context.Context, followerID, followeeID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO follows (follower_id, followee_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (follower_id, followee_id) DO NOTHING`,
		followerID, followeeID,
	)
	if err != nil {
		return false, fmt.Errorf("フォローの作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// Remove はエッジを削除する。存在しない場合はfalseを返す。
func (r *PostgresFollowRepo) Remove(ctx context.Context, followerID, followeeID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`,
		followerID, followeeID,
	)
	if err != nil {
		return false, fmt.Errorf("フォローの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// Exists はエッジが存在するかどうかを主キー検索で返す。
func (r *PostgresFollowRepo) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`,
		followerID, followeeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("フォロー状態の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Followers は userID をフォローしているユーザーIDをID昇順で返す。
func (r *PostgresFollowRepo) Followers(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx,
		`SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY follower_id`,
		userID,
	)
}

// Following は userID がフォローしているユーザーIDをID昇順で返す。
func (r *PostgresFollowRepo) Following(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx,
		`SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY followee_id`,
		userID,
	)
}

func (r *PostgresFollowRepo) listIDs(ctx context.Context, query, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("フォロー一覧のスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォロー一覧の読み取りに失敗しました: %w", err)
	}
	return ids, nil
}

// Counts はフォロワー数とフォロー数を返す。
func (r *PostgresFollowRepo) Counts(ctx context.Context, userID string) (int, int, error) {
	var followers, following int
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM follows WHERE followee_id = $1),
		   (SELECT count(*) FROM follows WHERE follower_id = $1)`,
		userID,
	).Scan(&followers, &following)
	if err != nil {
		return 0, 0, fmt.Errorf("フォロー数の取得に失敗しました: %w", err)
	}
	return followers, following, nil
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)
