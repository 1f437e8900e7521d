package memory

import (
	"context"
	"slices"

	"github.com/samber/lo"

	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/shard"
)

// node はユーザー1人分の隣接リスト。out はフォロー先、in はフォロワー。
type node struct {
	out map[string]struct{}
	in  map[string]struct{}
}

func (n *node) empty() bool {
	return len(n.out) == 0 && len(n.in) == 0
}

func nodeOf(m map[string]*node, id string) *node {
	n, ok := m[id]
	if !ok {
		n = &node{out: make(map[string]struct{}), in: make(map[string]struct{})}
		m[id] = n
	}
	return n
}

// FollowRepo はインメモリのフォロー関係リポジトリ。
// エッジ a→b の作成・削除は a と b のストライプを同時にロックして
// out[a] と in[b] を一度に更新するため、どちらの経路から見ても同じ状態になる。
type FollowRepo struct {
	nodes *shard.Table[*node]
}

// NewFollowRepo はFollowRepoを生成する。
func NewFollowRepo(stripes int) *FollowRepo {
	return &FollowRepo{nodes: shard.New[*node](stripes)}
}

// Add はエッジを作成する。既に存在する場合はfalseを返す。
func (r *FollowRepo) Add(ctx context.Context, followerID, followeeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var created bool
	r.nodes.UpdatePair(followerID, followeeID, func(m1, m2 map[string]*node) {
		from := nodeOf(m1, followerID)
		if _, ok := from.out[followeeID]; ok {
			return
		}
		from.out[followeeID] = struct{}{}
		nodeOf(m2, followeeID).in[followerID] = struct{}{}
		created = true
	})
	return created, nil
}

// Remove はエッジを削除する。存在しない場合はfalseを返す。
func (r *FollowRepo) Remove(ctx context.Context, followerID, followeeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var removed bool
	r.nodes.UpdatePair(followerID, followeeID, func(m1, m2 map[string]*node) {
		from, ok := m1[followerID]
		if !ok {
			return
		}
		if _, ok := from.out[followeeID]; !ok {
			return
		}
		delete(from.out, followeeID)
		if from.empty() {
			delete(m1, followerID)
		}
		if to, ok := m2[followeeID]; ok {
			delete(to.in, followerID)
			if to.empty() {
				delete(m2, followeeID)
			}
		}
		removed = true
	})
	return removed, nil
}

// Exists はエッジが存在するかどうかを返す。
func (r *FollowRepo) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists bool
	r.nodes.View(followerID, func(m map[string]*node) {
		if n, ok := m[followerID]; ok {
			_, exists = n.out[followeeID]
		}
	})
	return exists, nil
}

// Followers は userID のフォロワーをID昇順で返す。
func (r *FollowRepo) Followers(ctx context.Context, userID string) ([]string, error) {
	return r.list(ctx, userID, func(n *node) map[string]struct{} { return n.in })
}

// Following は userID のフォロー先をID昇順で返す。
func (r *FollowRepo) Following(ctx context.Context, userID string) ([]string, error) {
	return r.list(ctx, userID, func(n *node) map[string]struct{} { return n.out })
}

func (r *FollowRepo) list(ctx context.Context, userID string, side func(*node) map[string]struct{}) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := []string{}
	r.nodes.View(userID, func(m map[string]*node) {
		if n, ok := m[userID]; ok {
			ids = lo.Keys(side(n))
		}
	})
	slices.Sort(ids)
	return ids, nil
}

// Counts はフォロワー数とフォロー数を返す。
func (r *FollowRepo) Counts(ctx context.Context, userID string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	var followers, following int
	r.nodes.View(userID, func(m map[string]*node) {
		if n, ok := m[userID]; ok {
			followers, following = len(n.in), len(n.out)
		}
	})
	return followers, following, nil
}

var _ repository.FollowRepository = (*FollowRepo)(nil)
