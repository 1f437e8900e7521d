package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/socialfeed/internal/model"
)

// PostgresVoteRepo はPostgreSQLを使用した投票台帳リポジトリ。
// スコアはカウンタ列を持たず、常にvotesテーブルから集計する。
type PostgresVoteRepo struct {
	db *sql.DB
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

// Apply は (voter, post) セルをトランザクションスコープのアドバイザリロックで排他し、
// 読み取り・状態遷移・書き込みを1トランザクションで行う。
// 同じセルへの並行投票は直列化され、異なるセル同士は互いに待たない。
func (r *PostgresVoteRepo) Apply(
	ctx context.Context,
	voterID, postID string,
	next func(current model.VoteDirection) model.VoteDirection,
) (model.VoteDirection, model.VoteDirection, error) {
	if _, err := uuid.Parse(postID); err != nil {
		return model.VoteNone, model.VoteNone, ErrPostNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.VoteNone, model.VoteNone, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		voterID+"/"+postID,
	); err != nil {
		return model.VoteNone, model.VoteNone, fmt.Errorf("投票ロックの取得に失敗しました: %w", err)
	}

	// 投稿の存在確認。FOR SHARE で投稿の削除・物理削除と競合しないようにする
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT deleted_at IS NOT NULL FROM posts WHERE id = $1 FOR SHARE`,
		postID,
	).Scan(&deleted)
	if err == sql.ErrNoRows || (err == nil && deleted) {
		return model.VoteNone, model.VoteNone, ErrPostNotFound
	}
	if err != nil {
		return model.VoteNone, model.VoteNone, fmt.Errorf("投稿の確認に失敗しました: %w", err)
	}

	previous := model.VoteNone
	var dir string
	err = tx.QueryRowContext(ctx,
		`SELECT direction FROM votes WHERE voter_id = $1 AND post_id = $2`,
		voterID, postID,
	).Scan(&dir)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return model.VoteNone, model.VoteNone, fmt.Errorf("投票の取得に失敗しました: %w", err)
	default:
		previous = model.VoteDirection(dir)
	}

	current := next(previous)
	switch {
	case current == previous:
	case current == model.VoteNone:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM votes WHERE voter_id = $1 AND post_id = $2`,
			voterID, postID,
		)
	case previous == model.VoteNone:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO votes (voter_id, post_id, direction, created_at, updated_at)
			 VALUES ($1, $2, $3, now(), now())`,
			voterID, postID, string(current),
		)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE votes SET direction = $3, updated_at = now() WHERE voter_id = $1 AND post_id = $2`,
			voterID, postID, string(current),
		)
	}
	if err != nil {
		return model.VoteNone, model.VoteNone, fmt.Errorf("投票の書き込みに失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.VoteNone, model.VoteNone, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return previous, current, nil
}

// Direction は投票者の現在の状態を返す。
func (r *PostgresVoteRepo) Direction(ctx context.Context, voterID, postID string) (model.VoteDirection, error) {
	if _, err := uuid.Parse(postID); err != nil {
		return model.VoteNone, nil
	}

	var dir string
	err := r.db.QueryRowContext(ctx,
		`SELECT direction FROM votes WHERE voter_id = $1 AND post_id = $2`,
		voterID, postID,
	).Scan(&dir)
	if err == sql.ErrNoRows {
		return model.VoteNone, nil
	}
	if err != nil {
		return model.VoteNone, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	return model.VoteDirection(dir), nil
}

// Score は投稿のスコアを集計する。
func (r *PostgresVoteRepo) Score(ctx context.Context, postID string) (model.Score, error) {
	if _, err := uuid.Parse(postID); err != nil {
		return model.Score{}, nil
	}

	var up, down int
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   count(*) FILTER (WHERE direction = 'up'),
		   count(*) FILTER (WHERE direction = 'down')
		 FROM votes WHERE post_id = $1`,
		postID,
	).Scan(&up, &down)
	if err != nil {
		return model.Score{}, fmt.Errorf("スコアの集計に失敗しました: %w", err)
	}
	return model.NewScore(up, down), nil
}

// Scores は複数投稿のスコアを1クエリで集計する。
func (r *PostgresVoteRepo) Scores(ctx context.Context, postIDs []string) (map[string]model.Score, error) {
	scores := make(map[string]model.Score, len(postIDs))
	valid := make([]string, 0, len(postIDs))
	for _, id := range postIDs {
		scores[id] = model.Score{}
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return scores, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT post_id,
		   count(*) FILTER (WHERE direction = 'up'),
		   count(*) FILTER (WHERE direction = 'down')
		 FROM votes WHERE post_id = ANY($1::uuid[])
		 GROUP BY post_id`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("スコアの一括集計に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var up, down int
		if err := rows.Scan(&id, &up, &down); err != nil {
			return nil, fmt.Errorf("スコアのスキャンに失敗しました: %w", err)
		}
		scores[id] = model.NewScore(up, down)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スコアの読み取りに失敗しました: %w", err)
	}
	return scores, nil
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
