package vote

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/shard"
)

// generation は投稿ごとの世代番号と、最後に世代を進めた時刻。
type generation struct {
	gen     uint64
	touched time.Time
}

// ScoreCache は投稿スコアのプロセス内キャッシュ。
// キーに投稿ごとの世代番号を含め、投票の確定後に世代を進めることで古いスコアを参照不能にする。
// 世代番号はプロセス内でのみ共有されるため、複数インスタンス構成では他インスタンスの投票は
// TTL経過まで反映されない。
//
// 世代番号は全投稿で共有するカウンタから払い出す。TTLより長く投票のない投稿の世代は
// TTLごとに破棄し、その投稿は以後floorの世代を使う。floorは破棄時点のカウンタ値のため、
// 投稿の世代は単調に増え、破棄済みの世代のキーが再び参照されることはない。
type ScoreCache struct {
	scores *cache.Cache[model.Score]
	gens   *shard.Table[generation]
	ttl    time.Duration
	now    func() time.Time

	counter   atomic.Uint64
	floor     atomic.Uint64
	lastPrune atomic.Int64
}

// NewScoreCache はristrettoをバックエンドとするScoreCacheを生成する。
// maxCostはキャッシュに保持するスコアの最大件数。
func NewScoreCache(maxCost int64, ttl time.Duration) (*ScoreCache, error) {
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	c := &ScoreCache{
		scores: cache.New[model.Score](ristretto_store.NewRistretto(client)),
		gens:   shard.New[generation](0),
		ttl:    ttl,
		now:    time.Now,
	}
	c.lastPrune.Store(c.now().UnixNano())
	return c, nil
}

func (c *ScoreCache) generation(postID string) uint64 {
	var (
		g  generation
		ok bool
	)
	c.gens.View(postID, func(m map[string]generation) { g, ok = m[postID] })
	if !ok {
		return c.floor.Load()
	}
	return g.gen
}

func scoreKey(postID string, gen uint64) string {
	return fmt.Sprintf("score#%s#%d", postID, gen)
}

// lookup は現在の世代のスコアを返す。ミスの場合は読み取り前の世代と共にfalseを返す。
func (c *ScoreCache) lookup(ctx context.Context, postID string) (model.Score, uint64, bool) {
	gen := c.generation(postID)
	score, err := c.scores.Get(ctx, scoreKey(postID, gen))
	if err != nil {
		return model.Score{}, gen, false
	}
	return score, gen, true
}

// put は世代genで読み取ったスコアを保存する。
// 読み取り中に世代が進んでいた場合、そのキーはもう参照されない。
func (c *ScoreCache) put(ctx context.Context, postID string, gen uint64, score model.Score) {
	_ = c.scores.Set(ctx, scoreKey(postID, gen), score,
		store.WithExpiration(c.ttl),
		store.WithCost(1),
	)
}

// Invalidate は投稿の世代を進め、既存のキャッシュエントリを無効にする。
func (c *ScoreCache) Invalidate(postID string) {
	now := c.now()
	gen := c.counter.Add(1)
	c.gens.Update(postID, func(m map[string]generation) {
		m[postID] = generation{gen: gen, touched: now}
	})
	c.prune(now)
}

// prune はTTLに1回、TTLより長く世代が進んでいない投稿のエントリを破棄する。
// floorを先に引き上げるため、破棄された投稿が以前の世代に戻ることはない。
func (c *ScoreCache) prune(now time.Time) int {
	last := c.lastPrune.Load()
	if now.Sub(time.Unix(0, last)) < c.ttl {
		return 0
	}
	if !c.lastPrune.CompareAndSwap(last, now.UnixNano()) {
		return 0
	}

	c.floor.Store(c.counter.Load())
	return c.gens.DeleteIf(func(_ string, g generation) bool {
		return now.Sub(g.touched) >= c.ttl
	})
}

// tracked は世代を保持している投稿数を返す。
func (c *ScoreCache) tracked() int {
	return c.gens.Len()
}
