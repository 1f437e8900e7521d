package vote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
)

func newTestScoreCache(t *testing.T, ttl time.Duration, clock *time.Time) *ScoreCache {
	t.Helper()
	c, err := NewScoreCache(1000, ttl)
	if err != nil {
		t.Fatalf("NewScoreCache() error = %v", err)
	}
	c.now = func() time.Time { return *clock }
	c.lastPrune.Store(clock.UnixNano())
	return c
}

// 投票の途絶えた投稿の世代がTTL経過後に破棄され、保持件数が増え続けないことを検証
func TestScoreCache_PrunesIdleGenerations(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestScoreCache(t, time.Minute, &clock)

	for i := range 100 {
		c.Invalidate(fmt.Sprintf("post-%d", i))
	}
	if got := c.tracked(); got != 100 {
		t.Fatalf("tracked() = %d, want 100", got)
	}

	// TTL未満では破棄しない
	clock = clock.Add(30 * time.Second)
	c.Invalidate("post-0")
	if got := c.tracked(); got != 100 {
		t.Errorf("tracked() before ttl = %d, want 100", got)
	}

	clock = clock.Add(45 * time.Second)
	c.Invalidate("recent")
	// post-0は30秒前に世代が進んでいるため残る
	if got := c.tracked(); got != 2 {
		t.Errorf("tracked() after ttl = %d, want 2", got)
	}
}

// 世代が破棄された投稿が以前の世代のキャッシュを参照しないことを検証
func TestScoreCache_PrunedPostNeverReusesOldGeneration(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestScoreCache(t, time.Minute, &clock)
	ctx := context.Background()

	before := c.generation("p1")
	c.put(ctx, "p1", before, model.NewScore(9, 9))

	c.Invalidate("p1")
	voted := c.generation("p1")
	if voted == before {
		t.Fatalf("generation did not advance: %d", voted)
	}

	clock = clock.Add(2 * time.Minute)
	c.Invalidate("p2")
	if got := c.tracked(); got != 1 {
		t.Fatalf("tracked() = %d, want 1", got)
	}

	after := c.generation("p1")
	if after < voted {
		t.Errorf("generation after prune = %d, want >= %d", after, voted)
	}
	if after == before {
		t.Errorf("generation after prune = %d, reuses pre-vote generation", after)
	}
	if _, _, ok := c.lookup(ctx, "p1"); ok {
		t.Error("lookup() hit after prune, want miss")
	}
}
