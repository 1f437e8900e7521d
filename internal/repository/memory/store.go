// Package memory はプロセス内で完結するリポジトリ実装を提供する。
// STORAGE_BACKEND=memory の開発構成とテストで使用し、プロセス終了で内容は失われる。
package memory

// Store はインメモリリポジトリ一式をまとめたもの。
// 投稿の物理削除時に投票も連動削除されるよう、投稿と投票のリポジトリを接続する。
type Store struct {
	Users   *UserRepo
	Posts   *PostRepo
	Follows *FollowRepo
	Votes   *VoteRepo
}

// NewStore はStoreを生成する。stripesは分割ロックのストライプ数（0以下で既定値）。
func NewStore(stripes int) *Store {
	posts := NewPostRepo()
	votes := NewVoteRepo(posts, stripes)
	posts.onPurge = votes.dropPosts

	return &Store{
		Users:   NewUserRepo(),
		Posts:   posts,
		Follows: NewFollowRepo(stripes),
		Votes:   votes,
	}
}
