// Package feed は投稿の作成・編集と、投票スコア付きフィードの組み立てを提供する。
package feed

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/security"
)

// ScoreSource は投稿スコアの取得元（投票台帳）のインターフェース。
type ScoreSource interface {
	Scores(ctx context.Context, postIDs []string) (map[string]model.Score, error)
}

// UserLookup は作者の存在確認に使用するIDディレクトリのインターフェース。
type UserLookup interface {
	Lookup(ctx context.Context, id string) (*model.User, error)
}

// Page はフィードの1ページ分の結果。
type Page struct {
	Posts      []model.ScoredPost
	NextCursor string
	HasMore    bool
}

// Options はAssemblerのページサイズ設定。
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Assembler は投稿と投票台帳のスコアを組み合わせてフィードを組み立てる。
// スコアは読み取り時に毎回 ScoreSource から取得し、Assembler 自身は投票結果を判断しない。
type Assembler struct {
	posts     repository.PostRepository
	scores    ScoreSource
	users     UserLookup
	sanitizer security.TextSanitizer
	opts      Options

	now   func() time.Time
	newID func() string
}

// NewAssembler はAssemblerを生成する。
func NewAssembler(
	posts repository.PostRepository,
	scores ScoreSource,
	users UserLookup,
	sanitizer security.TextSanitizer,
	opts Options,
) *Assembler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	return &Assembler{
		posts:     posts,
		scores:    scores,
		users:     users,
		sanitizer: sanitizer,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// clampLimit は0以下をデフォルト値に、上限超過を上限値に丸める。
func (a *Assembler) clampLimit(limit int) int {
	if limit <= 0 {
		return a.opts.DefaultLimit
	}
	return min(limit, a.opts.MaxLimit)
}

// GlobalFeed は全作者の未削除投稿を新しい順に1ページ分返す。
// 並び順は (created_at DESC, id DESC)。cursor は直前ページの NextCursor。
//
// ページ間に新しい投稿が追加されても、それらはカーソルより新しいため後続ページには現れず、
// 既に返した投稿が再度返ることもない。ページ間で削除された投稿は単に読み飛ばされる。
func (a *Assembler) GlobalFeed(ctx context.Context, limit int, cursorToken string) (*Page, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = a.clampLimit(limit)

	posts, err := a.posts.ListRecent(ctx, cursor, limit+1)
	if err != nil {
		return nil, wrapStoreError("list recent posts", err)
	}
	return a.buildPage(ctx, posts, limit)
}

// AuthorPage は指定ユーザーの未削除投稿を新しい順に1ページ分返す。
// ユーザーが存在しない場合は USER_NOT_FOUND を返す。
func (a *Assembler) AuthorPage(ctx context.Context, authorID string, limit int, cursorToken string) (*Page, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	if err := a.ensureAuthor(ctx, authorID); err != nil {
		return nil, err
	}
	limit = a.clampLimit(limit)

	posts, err := a.posts.ListByAuthor(ctx, authorID, cursor, limit+1)
	if err != nil {
		return nil, wrapStoreError("list posts by author", err)
	}
	return a.buildPage(ctx, posts, limit)
}

// PostsByAuthor は作者の未削除投稿をスコア付きで新しい順に列挙するシーケンスを返す。
// シーケンスは遅延評価で、batch 件ずつ永続化層から読み込む。
// 列挙のたびに先頭から読み直すため、何度でも再利用できる。
// 途中でエラーが発生した場合はエラーを1回返して終了する。
func (a *Assembler) PostsByAuthor(ctx context.Context, authorID string, batch int) iter.Seq2[model.ScoredPost, error] {
	batch = a.clampLimit(batch)

	return func(yield func(model.ScoredPost, error) bool) {
		var cursor model.PostCursor
		for {
			posts, err := a.posts.ListByAuthor(ctx, authorID, cursor, batch)
			if err != nil {
				yield(model.ScoredPost{}, wrapStoreError("list posts by author", err))
				return
			}
			if len(posts) == 0 {
				return
			}

			scored, err := a.annotate(ctx, posts)
			if err != nil {
				yield(model.ScoredPost{}, err)
				return
			}
			for _, sp := range scored {
				if !yield(sp, nil) {
					return
				}
			}

			if len(posts) < batch {
				return
			}
			cursor = model.CursorOf(posts[len(posts)-1])
		}
	}
}

// GetPost は未削除の投稿をスコア付きで返す。
func (a *Assembler) GetPost(ctx context.Context, postID string) (*model.ScoredPost, error) {
	post, err := a.findLivePost(ctx, postID)
	if err != nil {
		return nil, err
	}
	scored, err := a.annotate(ctx, []*model.Post{post})
	if err != nil {
		return nil, err
	}
	return &scored[0], nil
}

// CreatePost は投稿を作成する。本文はプレーンテキストに正規化される。
// 作成日時はPostgreSQLの精度に合わせてマイクロ秒に切り詰める。
func (a *Assembler) CreatePost(ctx context.Context, authorID, rawBody string) (*model.ScoredPost, error) {
	body, err := a.sanitizer.PostBody(rawBody)
	if err != nil {
		return nil, err
	}

	post := &model.Post{
		ID:        a.newID(),
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: a.now().UTC().Truncate(time.Microsecond),
	}
	if err := a.posts.Create(ctx, post); err != nil {
		return nil, wrapStoreError("create post", err)
	}
	return &model.ScoredPost{Post: *post}, nil
}

// EditPost は投稿本文を更新する。作者本人のみ実行できる。
// 投票台帳には触れないため、スコアは編集前のまま維持される。
func (a *Assembler) EditPost(ctx context.Context, callerID, postID, rawBody string) (*model.ScoredPost, error) {
	post, err := a.findOwnPost(ctx, callerID, postID)
	if err != nil {
		return nil, err
	}
	body, err := a.sanitizer.PostBody(rawBody)
	if err != nil {
		return nil, err
	}

	editedAt := a.now().UTC().Truncate(time.Microsecond)
	updated, err := a.posts.UpdateBody(ctx, postID, body, editedAt)
	if err != nil {
		return nil, wrapStoreError("edit post", err)
	}
	if !updated {
		// 確認後に削除された
		return nil, model.NewPostNotFoundError(postID)
	}

	post.Body = body
	post.EditedAt = &editedAt
	scored, err := a.annotate(ctx, []*model.Post{post})
	if err != nil {
		return nil, err
	}
	return &scored[0], nil
}

// DeletePost は投稿を論理削除する。作者本人のみ実行できる。
// 投票レコードは残り、物理削除時に投稿とともに消える。
func (a *Assembler) DeletePost(ctx context.Context, callerID, postID string) error {
	if _, err := a.findOwnPost(ctx, callerID, postID); err != nil {
		return err
	}

	deleted, err := a.posts.SoftDelete(ctx, postID, a.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return wrapStoreError("delete post", err)
	}
	if !deleted {
		return model.NewPostNotFoundError(postID)
	}
	return nil
}

func (a *Assembler) findLivePost(ctx context.Context, postID string) (*model.Post, error) {
	post, err := a.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, wrapStoreError("find post", err)
	}
	if post == nil || post.IsDeleted() {
		return nil, model.NewPostNotFoundError(postID)
	}
	return post, nil
}

func (a *Assembler) findOwnPost(ctx context.Context, callerID, postID string) (*model.Post, error) {
	post, err := a.findLivePost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != callerID {
		return nil, model.NewForbiddenError("他のユーザーの投稿は変更できません")
	}
	return post, nil
}

func (a *Assembler) ensureAuthor(ctx context.Context, authorID string) error {
	user, err := a.users.Lookup(ctx, authorID)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError(authorID)
	}
	return nil
}

// buildPage は limit+1 件の取得結果からHasMoreを判定し、スコアを付与してページを組み立てる。
func (a *Assembler) buildPage(ctx context.Context, posts []*model.Post, limit int) (*Page, error) {
	hasMore := len(posts) > limit
	if hasMore {
		posts = posts[:limit]
	}

	scored, err := a.annotate(ctx, posts)
	if err != nil {
		return nil, err
	}

	page := &Page{Posts: scored, HasMore: hasMore}
	if hasMore {
		page.NextCursor = EncodeCursor(model.CursorOf(posts[len(posts)-1]))
	}
	return page, nil
}

// annotate は投稿に投票台帳の現在のスコアを付与する。
func (a *Assembler) annotate(ctx context.Context, posts []*model.Post) ([]model.ScoredPost, error) {
	scored := make([]model.ScoredPost, len(posts))
	if len(posts) == 0 {
		return scored, nil
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	scores, err := a.scores.Scores(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i, p := range posts {
		scored[i] = model.ScoredPost{Post: *p, Score: scores[p.ID]}
	}
	return scored, nil
}

func wrapStoreError(op string, err error) error {
	if repository.IsUnavailable(err) {
		return model.NewUnavailableError("データベース", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
