package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
)

func TestUserRepo_UpsertAndFind(t *testing.T) {
	repo := NewUserRepo()
	ctx := context.Background()
	now := time.Now()

	if err := repo.Upsert(ctx, &model.User{ID: "u1", Handle: "alice", DisplayName: "Alice", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	u, _ := repo.FindByHandle(ctx, "alice")
	if u == nil || u.ID != "u1" {
		t.Fatalf("FindByHandle() = %+v", u)
	}
	if u, _ := repo.FindByID(ctx, "missing"); u != nil {
		t.Errorf("FindByID(missing) = %+v, want nil", u)
	}
}

func TestUserRepo_HandleImmutableOnceAssigned(t *testing.T) {
	repo := NewUserRepo()
	ctx := context.Background()

	repo.Upsert(ctx, &model.User{ID: "u1"})
	repo.Upsert(ctx, &model.User{ID: "u1", Handle: "alice"})
	repo.Upsert(ctx, &model.User{ID: "u1", Handle: "alicia", DisplayName: "Alicia"})

	u, _ := repo.FindByID(ctx, "u1")
	if u.Handle != "alice" {
		t.Errorf("Handle = %q, want %q", u.Handle, "alice")
	}
	if u.DisplayName != "Alicia" {
		t.Errorf("DisplayName = %q, want %q", u.DisplayName, "Alicia")
	}
	if u, _ := repo.FindByHandle(ctx, "alicia"); u != nil {
		t.Error("handle alicia must not be indexed")
	}
}

func TestUserRepo_UpsertKeepsDisplayName(t *testing.T) {
	repo := NewUserRepo()
	ctx := context.Background()

	repo.Upsert(ctx, &model.User{ID: "u1", DisplayName: "Alice"})
	name := "Edited"
	if _, err := repo.UpdateProfile(ctx, "u1", model.ProfileUpdate{DisplayName: &name}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	repo.Upsert(ctx, &model.User{ID: "u1", DisplayName: "Alice"})

	u, _ := repo.FindByID(ctx, "u1")
	if u.DisplayName != "Edited" {
		t.Errorf("DisplayName = %q, want %q", u.DisplayName, "Edited")
	}
}

func TestUserRepo_HandleTaken(t *testing.T) {
	repo := NewUserRepo()
	ctx := context.Background()

	repo.Upsert(ctx, &model.User{ID: "u1", Handle: "alice"})
	err := repo.Upsert(ctx, &model.User{ID: "u2", Handle: "alice"})
	if !errors.Is(err, repository.ErrHandleTaken) {
		t.Errorf("Upsert() error = %v, want ErrHandleTaken", err)
	}
}

func TestUserRepo_UpdateProfile(t *testing.T) {
	repo := NewUserRepo()
	ctx := context.Background()
	repo.Upsert(ctx, &model.User{ID: "u1", DisplayName: "Alice"})

	bio := "hello"
	u, err := repo.UpdateProfile(ctx, "u1", model.ProfileUpdate{Bio: &bio})
	if err != nil || u == nil {
		t.Fatalf("UpdateProfile() = %+v, %v", u, err)
	}
	if u.Bio != "hello" || u.DisplayName != "Alice" {
		t.Errorf("profile = %+v", u)
	}

	u, _ = repo.UpdateProfile(ctx, "missing", model.ProfileUpdate{Bio: &bio})
	if u != nil {
		t.Error("UpdateProfile(missing) should return nil")
	}
}
