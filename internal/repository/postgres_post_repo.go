package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialfeed/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, author_id, body, created_at, edited_at, deleted_at`

func scanPost(row interface{ Scan(...any) error }) (*model.Post, error) {
	p := &model.Post{}
	var editedAt, deletedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Body, &p.CreatedAt, &editedAt, &deletedAt); err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		p.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return p, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, body, created_at) VALUES ($1, $2, $3, $4)`,
		post.ID, post.AuthorID, post.Body, post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// UpdateBody は未削除の投稿の本文と編集日時を更新する。
func (r *PostgresPostRepo) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET body = $2, edited_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, body, editedAt,
	)
	if err != nil {
		return false, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// SoftDelete は投稿を論理削除する。投票レコードには触れない。
func (r *PostgresPostRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, deletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// ListByAuthor は作者の未削除投稿をキーセットページネーションで取得する。
func (r *PostgresPostRepo) ListByAuthor(ctx context.Context, authorID string, cursor model.PostCursor, limit int) ([]*model.Post, error) {
	return r.list(ctx, "author_id = $1", []any{authorID}, cursor, limit)
}

// ListRecent は全作者の未削除投稿をキーセットページネーションで取得する。
func (r *PostgresPostRepo) ListRecent(ctx context.Context, cursor model.PostCursor, limit int) ([]*model.Post, error) {
	return r.list(ctx, "", nil, cursor, limit)
}

func (r *PostgresPostRepo) list(ctx context.Context, cond string, args []any, cursor model.PostCursor, limit int) ([]*model.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE deleted_at IS NULL`
	if cond != "" {
		query += " AND " + cond
	}
	argIndex := len(args) + 1

	// カーソルベースページネーション: (created_at, id) の行値比較で直前ページの末尾より後ろを取得
	if !cursor.IsZero() {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursor.CreatedAt, cursor.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の読み取りに失敗しました: %w", err)
	}
	return posts, nil
}

// PurgeDeletedBefore は指定日時より前に論理削除された投稿を物理削除する。
// 投票はON DELETE CASCADEで連動削除される。
func (r *PostgresPostRepo) PurgeDeletedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM posts WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("削除済み投稿の物理削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
