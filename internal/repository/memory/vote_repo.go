package memory

import (
	"context"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/shard"
)

// VoteRepo はインメモリの投票台帳リポジトリ。
// 投稿IDでストライプに分割し、投稿ごとに voter → 向き のマップを保持する。
// 同じ投稿への投票は同じストライプのロックで直列化される。
type VoteRepo struct {
	posts *PostRepo
	cells *shard.Table[map[string]model.VoteDirection]
}

// NewVoteRepo はVoteRepoを生成する。postsは投票対象の存在確認に使用する。
func NewVoteRepo(posts *PostRepo, stripes int) *VoteRepo {
	return &VoteRepo{
		posts: posts,
		cells: shard.New[map[string]model.VoteDirection](stripes),
	}
}

// Apply は (voter, post) セルの状態を読み取り、next の返す状態を書き込む。
func (r *VoteRepo) Apply(
	ctx context.Context,
	voterID, postID string,
	next func(current model.VoteDirection) model.VoteDirection,
) (model.VoteDirection, model.VoteDirection, error) {
	if err := ctx.Err(); err != nil {
		return model.VoteNone, model.VoteNone, err
	}

	previous, current := model.VoteNone, model.VoteNone
	var err error
	r.cells.Update(postID, func(m map[string]map[string]model.VoteDirection) {
		if !r.posts.isLive(postID) {
			err = repository.ErrPostNotFound
			return
		}

		votes := m[postID]
		if d, ok := votes[voterID]; ok {
			previous = d
		}
		current = next(previous)

		if current == model.VoteNone {
			delete(votes, voterID)
			if len(votes) == 0 {
				delete(m, postID)
			}
			return
		}
		if votes == nil {
			votes = make(map[string]model.VoteDirection)
			m[postID] = votes
		}
		votes[voterID] = current
	})
	if err != nil {
		return model.VoteNone, model.VoteNone, err
	}
	return previous, current, nil
}

// Direction は投票者の現在の状態を返す。
func (r *VoteRepo) Direction(ctx context.Context, voterID, postID string) (model.VoteDirection, error) {
	if err := ctx.Err(); err != nil {
		return model.VoteNone, err
	}

	dir := model.VoteNone
	r.cells.View(postID, func(m map[string]map[string]model.VoteDirection) {
		if d, ok := m[postID][voterID]; ok {
			dir = d
		}
	})
	return dir, nil
}

// Score は投稿の現在の投票を走査してスコアを集計する。
func (r *VoteRepo) Score(ctx context.Context, postID string) (model.Score, error) {
	if err := ctx.Err(); err != nil {
		return model.Score{}, err
	}
	return r.score(postID), nil
}

func (r *VoteRepo) score(postID string) model.Score {
	var up, down int
	r.cells.View(postID, func(m map[string]map[string]model.VoteDirection) {
		for _, d := range m[postID] {
			switch d {
			case model.VoteUp:
				up++
			case model.VoteDown:
				down++
			}
		}
	})
	return model.NewScore(up, down)
}

// Scores は複数投稿のスコアを集計する。
func (r *VoteRepo) Scores(ctx context.Context, postIDs []string) (map[string]model.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := make(map[string]model.Score, len(postIDs))
	for _, id := range postIDs {
		scores[id] = r.score(id)
	}
	return scores, nil
}

// dropPosts は物理削除された投稿の投票をすべて削除する。
func (r *VoteRepo) dropPosts(postIDs []string) {
	for _, id := range postIDs {
		r.cells.Update(id, func(m map[string]map[string]model.VoteDirection) {
			delete(m, id)
		})
	}
}

var _ repository.VoteRepository = (*VoteRepo)(nil)
