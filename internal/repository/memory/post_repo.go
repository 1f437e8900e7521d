package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
)

// comparePosts はフィードの並び順 (created_at 降順, id 降順) で比較する。
func comparePosts(a, b *model.Post) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// PostRepo はインメモリの投稿リポジトリ。
// 投稿はフィード順に整列したスライスで保持し、カーソル位置は二分探索で求める。
type PostRepo struct {
	mu       sync.RWMutex
	byID     map[string]*model.Post
	ordered  []*model.Post
	byAuthor map[string][]*model.Post

	onPurge func(postIDs []string)
}

// NewPostRepo はPostRepoを生成する。
func NewPostRepo() *PostRepo {
	return &PostRepo{
		byID:     make(map[string]*model.Post),
		byAuthor: make(map[string][]*model.Post),
	}
}

func clonePost(p *model.Post) *model.Post {
	c := *p
	if p.EditedAt != nil {
		t := *p.EditedAt
		c.EditedAt = &t
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func insertSorted(list []*model.Post, p *model.Post) []*model.Post {
	i, _ := slices.BinarySearchFunc(list, p, comparePosts)
	return slices.Insert(list, i, p)
}

func removeSorted(list []*model.Post, p *model.Post) []*model.Post {
	i, found := slices.BinarySearchFunc(list, p, comparePosts)
	if !found {
		return list
	}
	return slices.Delete(list, i, i+1)
}

// Create は投稿を作成する。
func (r *PostRepo) Create(ctx context.Context, post *model.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p := clonePost(post)
	r.byID[p.ID] = p
	r.ordered = insertSorted(r.ordered, p)
	r.byAuthor[p.AuthorID] = insertSorted(r.byAuthor[p.AuthorID], p)
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return clonePost(p), nil
}

// isLive は投稿が存在し論理削除されていないかどうかを返す。投票リポジトリから使用する。
func (r *PostRepo) isLive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	return ok && !p.IsDeleted()
}

// UpdateBody は未削除の投稿の本文と編集日時を更新する。
func (r *PostRepo) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.IsDeleted() {
		return false, nil
	}
	p.Body = body
	p.EditedAt = &editedAt
	return true, nil
}

// SoftDelete は投稿を論理削除する。
func (r *PostRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.IsDeleted() {
		return false, nil
	}
	p.DeletedAt = &deletedAt
	return true, nil
}

// ListByAuthor は作者の未削除投稿を cursor より後ろから最大limit件返す。
func (r *PostRepo) ListByAuthor(ctx context.Context, authorID string, cursor model.PostCursor, limit int) ([]*model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return page(r.byAuthor[authorID], cursor, limit), nil
}

// ListRecent は全作者の未削除投稿を cursor より後ろから最大limit件返す。
func (r *PostRepo) ListRecent(ctx context.Context, cursor model.PostCursor, limit int) ([]*model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return page(r.ordered, cursor, limit), nil
}

func page(list []*model.Post, cursor model.PostCursor, limit int) []*model.Post {
	start := 0
	if !cursor.IsZero() {
		start, _ = slices.BinarySearchFunc(list, cursor, func(p *model.Post, c model.PostCursor) int {
			if c.Before(p) {
				return 1
			}
			return -1
		})
	}

	var out []*model.Post
	for _, p := range list[start:] {
		if len(out) >= limit {
			break
		}
		if p.IsDeleted() {
			continue
		}
		out = append(out, clonePost(p))
	}
	return out
}

// PurgeDeletedBefore は指定日時より前に論理削除された投稿を物理削除する。
// 削除した投稿の投票も連動して削除する。
func (r *PostRepo) PurgeDeletedBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	var purged []string
	for id, p := range r.byID {
		if p.DeletedAt == nil || !p.DeletedAt.Before(before) {
			continue
		}
		delete(r.byID, id)
		r.ordered = removeSorted(r.ordered, p)
		r.byAuthor[p.AuthorID] = removeSorted(r.byAuthor[p.AuthorID], p)
		if len(r.byAuthor[p.AuthorID]) == 0 {
			delete(r.byAuthor, p.AuthorID)
		}
		purged = append(purged, id)
	}
	r.mu.Unlock()

	if len(purged) > 0 && r.onPurge != nil {
		r.onPurge(purged)
	}
	return int64(len(purged)), nil
}

var _ repository.PostRepository = (*PostRepo)(nil)
