package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestFollowRepo_AddIsIdempotent(t *testing.T) {
	repo := NewFollowRepo(4)
	ctx := context.Background()

	created, err := repo.Add(ctx, "alice", "bob")
	if err != nil || !created {
		t.Fatalf("Add() = %v, %v, want true, nil", created, err)
	}
	created, err = repo.Add(ctx, "alice", "bob")
	if err != nil || created {
		t.Fatalf("second Add() = %v, %v, want false, nil", created, err)
	}

	followers, _ := repo.Followers(ctx, "bob")
	if !slices.Equal(followers, []string{"alice"}) {
		t.Errorf("Followers(bob) = %v, want [alice]", followers)
	}
}

func TestFollowRepo_IsDirectional(t *testing.T) {
	repo := NewFollowRepo(4)
	ctx := context.Background()

	if _, err := repo.Add(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if ok, _ := repo.Exists(ctx, "alice", "bob"); !ok {
		t.Error("Exists(alice, bob) = false, want true")
	}
	if ok, _ := repo.Exists(ctx, "bob", "alice"); ok {
		t.Error("Exists(bob, alice) = true, want false")
	}

	following, _ := repo.Following(ctx, "bob")
	if len(following) != 0 {
		t.Errorf("Following(bob) = %v, want empty", following)
	}
}

func TestFollowRepo_RemoveCleansBothSides(t *testing.T) {
	repo := NewFollowRepo(4)
	ctx := context.Background()

	repo.Add(ctx, "alice", "bob")
	removed, err := repo.Remove(ctx, "alice", "bob")
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v, want true, nil", removed, err)
	}
	removed, _ = repo.Remove(ctx, "alice", "bob")
	if removed {
		t.Error("second Remove() = true, want false")
	}

	followers, following, _ := repo.Counts(ctx, "bob")
	if followers != 0 || following != 0 {
		t.Errorf("Counts(bob) = %d, %d, want 0, 0", followers, following)
	}
	if repo.nodes.Len() != 0 {
		t.Errorf("expected empty adjacency entries to be removed, got %d", repo.nodes.Len())
	}
}

func TestFollowRepo_SortedListing(t *testing.T) {
	repo := NewFollowRepo(4)
	ctx := context.Background()

	for _, f := range []string{"carol", "alice", "dave", "bob"} {
		repo.Add(ctx, f, "erin")
	}

	followers, _ := repo.Followers(ctx, "erin")
	want := []string{"alice", "bob", "carol", "dave"}
	if !slices.Equal(followers, want) {
		t.Errorf("Followers(erin) = %v, want %v", followers, want)
	}
	n, _, _ := repo.Counts(ctx, "erin")
	if n != 4 {
		t.Errorf("follower count = %d, want 4", n)
	}
}

// 並行するフォロー/アンフォローの後も両方向のインデックスが一致することを検証
func TestFollowRepo_ConcurrentConsistency(t *testing.T) {
	repo := NewFollowRepo(8)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		for j := 0; j < 30; j++ {
			if i == j {
				continue
			}
			a, b := fmt.Sprintf("u%02d", i), fmt.Sprintf("u%02d", j)
			wg.Add(1)
			go func() {
				defer wg.Done()
				repo.Add(ctx, a, b)
				if (i+j)%3 == 0 {
					repo.Remove(ctx, a, b)
				}
			}()
		}
	}
	wg.Wait()

	for i := 0; i < 30; i++ {
		u := fmt.Sprintf("u%02d", i)
		following, _ := repo.Following(ctx, u)
		for _, v := range following {
			followers, _ := repo.Followers(ctx, v)
			if !slices.Contains(followers, u) {
				t.Errorf("%s follows %s but is missing from Followers(%s)", u, v, v)
			}
		}
	}
}

func TestFollowRepo_CanceledContext(t *testing.T) {
	repo := NewFollowRepo(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.Add(ctx, "alice", "bob"); err == nil {
		t.Error("expected error for canceled context")
	}
	if ok, _ := repo.Exists(context.Background(), "alice", "bob"); ok {
		t.Error("canceled Add must not create the edge")
	}
}
