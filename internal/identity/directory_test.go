package identity

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/repository/memory"
)

// mockUserRepo はテスト用のUserRepositoryモック。
type mockUserRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	findByHandleFn  func(ctx context.Context, handle string) (*model.User, error)
	upsertFn        func(ctx context.Context, user *model.User) error
	updateProfileFn func(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockUserRepo) FindByHandle(ctx context.Context, handle string) (*model.User, error) {
	return m.findByHandleFn(ctx, handle)
}

func (m *mockUserRepo) Upsert(ctx context.Context, user *model.User) error {
	return m.upsertFn(ctx, user)
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	return m.updateProfileFn(ctx, id, update)
}

func newTestDirectory(t *testing.T) (*Directory, *memory.UserRepo) {
	t.Helper()
	users := memory.NewUserRepo()
	return NewDirectory(users, DefaultBreakerConfig(), nil), users
}

func TestDirectory_Resolve(t *testing.T) {
	dir, users := newTestDirectory(t)
	users.Upsert(context.Background(), &model.User{ID: "u1", Handle: "alice"})

	id, err := dir.Resolve(context.Background(), "@alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "u1" {
		t.Errorf("Resolve() = %q, want %q", id, "u1")
	}

	_, err = dir.Resolve(context.Background(), "bob")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("Resolve(bob) error = %v, want USER_NOT_FOUND", err)
	}
	_, err = dir.Resolve(context.Background(), "  ")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("Resolve(blank) error = %v, want USER_NOT_FOUND", err)
	}
}

func TestDirectory_Lookup_NotFound(t *testing.T) {
	dir, _ := newTestDirectory(t)

	_, err := dir.Lookup(context.Background(), "ghost")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("Lookup() error = %v, want USER_NOT_FOUND", err)
	}
}

func TestDirectory_Sync_CreatesAndFillsBlanks(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	u, err := dir.Sync(ctx, Claims{UserID: "u1", Handle: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if u.Handle != "alice" || u.DisplayName != "Alice" {
		t.Errorf("Sync() = %+v", u)
	}

	u, err = dir.Sync(ctx, Claims{UserID: "u1", Handle: "other", DisplayName: "Alice A"})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if u.Handle != "alice" {
		t.Errorf("Handle = %q, want immutable %q", u.Handle, "alice")
	}
	if u.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want existing %q", u.DisplayName, "Alice")
	}
}

// プロフィール編集で変更した表示名が、次のリクエストのクレーム同期で戻らないことを検証
func TestDirectory_Sync_KeepsEditedDisplayName(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	claims := Claims{UserID: "u1", Handle: "alice", DisplayName: "Token Name"}

	if _, err := dir.Sync(ctx, claims); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	edited := "Edited Name"
	if _, err := dir.UpdateProfile(ctx, "u1", model.ProfileUpdate{DisplayName: &edited}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	u, err := dir.Sync(ctx, claims)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if u.DisplayName != "Edited Name" {
		t.Errorf("DisplayName after sync = %q, want %q", u.DisplayName, "Edited Name")
	}
	if u, _ := dir.Lookup(ctx, "u1"); u.DisplayName != "Edited Name" {
		t.Errorf("stored DisplayName = %q, want %q", u.DisplayName, "Edited Name")
	}
}

// 補う項目がない既存ユーザーの同期では書き込みを行わないことを検証
func TestDirectory_Sync_ExistingUserSkipsWrite(t *testing.T) {
	upserts := 0
	existing := &model.User{ID: "u1", Handle: "alice", DisplayName: "Alice"}
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			clone := *existing
			return &clone, nil
		},
		upsertFn: func(ctx context.Context, user *model.User) error {
			upserts++
			return nil
		},
	}
	dir := NewDirectory(repo, DefaultBreakerConfig(), nil)

	for range 3 {
		u, err := dir.Sync(context.Background(), Claims{UserID: "u1", Handle: "other", DisplayName: "Token Name"})
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if u.DisplayName != "Alice" || u.Handle != "alice" {
			t.Errorf("Sync() = %+v", u)
		}
	}
	if upserts != 0 {
		t.Errorf("Upsert calls = %d, want 0", upserts)
	}

	existing.Handle = ""
	if _, err := dir.Sync(context.Background(), Claims{UserID: "u1", Handle: "alice"}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if upserts != 1 {
		t.Errorf("Upsert calls = %d, want 1 when the handle is unassigned", upserts)
	}
}

func TestDirectory_Sync_HandleTakenFallsBack(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Sync(ctx, Claims{UserID: "u1", Handle: "alice"}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	u, err := dir.Sync(ctx, Claims{UserID: "u2", Handle: "alice"})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if u.HasHandle() {
		t.Errorf("Handle = %q, want empty", u.Handle)
	}
}

func TestDirectory_Sync_EmptySubject(t *testing.T) {
	dir, _ := newTestDirectory(t)

	_, err := dir.Sync(context.Background(), Claims{})
	if !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("Sync() error = %v, want UNAUTHORIZED", err)
	}
}

func TestDirectory_UnavailableStore(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, driver.ErrBadConn
		},
	}
	dir := NewDirectory(repo, DefaultBreakerConfig(), nil)

	_, err := dir.Lookup(context.Background(), "u1")
	if !model.IsRetryable(err) {
		t.Errorf("Lookup() error = %v, want SERVICE_UNAVAILABLE", err)
	}
}

// 接続障害が続くとブレーカーが開き、リポジトリを呼ばずに失敗することを検証
func TestDirectory_BreakerOpens(t *testing.T) {
	calls := 0
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			calls++
			return nil, driver.ErrBadConn
		},
	}
	cfg := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 3, FailureThreshold: 0.5}
	dir := NewDirectory(repo, cfg, nil)

	for i := 0; i < 3; i++ {
		dir.Lookup(context.Background(), "u1")
	}
	_, err := dir.Lookup(context.Background(), "u1")
	if !model.IsRetryable(err) {
		t.Errorf("Lookup() error = %v, want SERVICE_UNAVAILABLE", err)
	}
	if calls != 3 {
		t.Errorf("repository calls = %d, want 3 (breaker should be open)", calls)
	}
}

// 接続障害以外のエラーではブレーカーが開かないことを検証
func TestDirectory_NonConnectionErrorsDoNotTrip(t *testing.T) {
	calls := 0
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			calls++
			return nil, errors.New("syntax error")
		},
	}
	cfg := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 1, FailureThreshold: 0.1}
	dir := NewDirectory(repo, cfg, nil)

	for i := 0; i < 5; i++ {
		_, err := dir.Lookup(context.Background(), "u1")
		if model.IsRetryable(err) {
			t.Fatalf("Lookup() error = %v, want non-retryable", err)
		}
	}
	if calls != 5 {
		t.Errorf("repository calls = %d, want 5", calls)
	}
}

func TestDirectory_UpdateProfile_NotFound(t *testing.T) {
	dir, _ := newTestDirectory(t)
	bio := "x"
	_, err := dir.UpdateProfile(context.Background(), "ghost", model.ProfileUpdate{Bio: &bio})
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("UpdateProfile() error = %v, want USER_NOT_FOUND", err)
	}
}

var _ repository.UserRepository = (*mockUserRepo)(nil)
