// Package vote は投稿ごとの投票台帳を管理する。
package vote

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
)

// Ledger は投票台帳のビジネスロジックを提供する。
// スコアは常に現在の投票レコードから集計し、ScoreCacheはその結果のみを保持する。
type Ledger struct {
	votes   repository.VoteRepository
	cache   *ScoreCache
	metrics metrics.MetricsCollector
}

// NewLedger はLedgerを生成する。cacheがnilの場合はキャッシュを使用しない。
func NewLedger(votes repository.VoteRepository, cache *ScoreCache, m metrics.MetricsCollector) *Ledger {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Ledger{votes: votes, cache: cache, metrics: m}
}

// CastVote は (voter, post) セルに投票を適用し、投票者の新しい状態と投稿の最新スコアを返す。
// 同じ向きの再投票は投票を取り消し、逆向きの投票は1回の更新で向きを反転する。
func (l *Ledger) CastVote(ctx context.Context, voterID, postID string, direction model.VoteDirection) (*model.VoteResult, error) {
	if !direction.IsCastable() {
		return nil, model.NewInvalidDirectionError(string(direction))
	}

	previous, current, err := l.votes.Apply(ctx, voterID, postID, func(cur model.VoteDirection) model.VoteDirection {
		return model.NextVoteState(cur, direction)
	})
	if errors.Is(err, repository.ErrPostNotFound) {
		return nil, model.NewPostNotFoundError(postID)
	}
	if err != nil {
		return nil, wrapStoreError("cast vote", err)
	}

	if l.cache != nil {
		l.cache.Invalidate(postID)
	}
	l.metrics.RecordVote(string(previous), string(current))

	score, err := l.Score(ctx, postID)
	if err != nil {
		return nil, err
	}

	return &model.VoteResult{
		PostID:   postID,
		Previous: previous,
		State:    current,
		Score:    score,
	}, nil
}

// Score は投稿の現在のスコアを返す。
func (l *Ledger) Score(ctx context.Context, postID string) (model.Score, error) {
	var gen uint64
	if l.cache != nil {
		score, g, ok := l.cache.lookup(ctx, postID)
		if ok {
			return score, nil
		}
		gen = g
	}

	score, err := l.votes.Score(ctx, postID)
	if err != nil {
		return model.Score{}, wrapStoreError("score", err)
	}

	if l.cache != nil {
		l.cache.put(ctx, postID, gen, score)
	}
	return score, nil
}

// Scores は複数投稿のスコアをまとめて返す。キャッシュにない投稿のみを1回で集計する。
func (l *Ledger) Scores(ctx context.Context, postIDs []string) (map[string]model.Score, error) {
	scores := make(map[string]model.Score, len(postIDs))
	misses := postIDs
	gens := map[string]uint64{}

	if l.cache != nil {
		misses = nil
		for _, id := range postIDs {
			score, gen, ok := l.cache.lookup(ctx, id)
			if ok {
				scores[id] = score
				continue
			}
			gens[id] = gen
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return scores, nil
	}

	fetched, err := l.votes.Scores(ctx, misses)
	if err != nil {
		return nil, wrapStoreError("scores", err)
	}
	for _, id := range misses {
		score := fetched[id]
		scores[id] = score
		if l.cache != nil {
			l.cache.put(ctx, id, gens[id], score)
		}
	}
	return scores, nil
}

// VoterState は投票者の現在の状態（up / down / none）を返す。
func (l *Ledger) VoterState(ctx context.Context, voterID, postID string) (model.VoteDirection, error) {
	dir, err := l.votes.Direction(ctx, voterID, postID)
	if err != nil {
		return model.VoteNone, wrapStoreError("voter state", err)
	}
	return dir, nil
}

func wrapStoreError(op string, err error) error {
	if repository.IsUnavailable(err) {
		return model.NewUnavailableError("データベース", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
