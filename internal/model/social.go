package model

import "time"

// FollowEdge はフォロワーからフォロー先への有向エッジを表す。
// A→B の存在は B→A について何も意味しない。
type FollowEdge struct {
	FollowerID string
	FolloweeID string
	CreatedAt  time.Time
}

// VoteDirection は投票の向きを表す。
type VoteDirection string

const (
	// VoteNone は投票なし（レコードが存在しない状態）。
	VoteNone VoteDirection = "none"
	// VoteUp は賛成票。
	VoteUp VoteDirection = "up"
	// VoteDown は反対票。
	VoteDown VoteDirection = "down"
)

// IsCastable は CastVote に渡せる向き（up/down）かどうかを返す。
func (d VoteDirection) IsCastable() bool {
	return d == VoteUp || d == VoteDown
}

// NextVoteState は投票セル (voter, post) の状態遷移を計算する。
//
//	None --up--> Up, None --down--> Down
//	Up --up--> None, Up --down--> Down
//	Down --down--> None, Down --up--> Up
func NextVoteState(current, cast VoteDirection) VoteDirection {
	if current == cast {
		return VoteNone
	}
	return cast
}

// Vote は (voter, post) ごとに高々1件存在する投票レコード。
type Vote struct {
	VoterID   string
	PostID    string
	Direction VoteDirection
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Score は投稿の集計スコア。Value = Up - Down。
type Score struct {
	Value int
	Up    int
	Down  int
}

// NewScore は賛成数と反対数からScoreを生成する。
func NewScore(up, down int) Score {
	return Score{Value: up - down, Up: up, Down: down}
}

// Total は有効な投票の総数を返す。
func (s Score) Total() int {
	return s.Up + s.Down
}

// VoteResult は CastVote の結果（投票者の新しい状態と投稿の最新スコア）。
type VoteResult struct {
	PostID   string
	Previous VoteDirection
	State    VoteDirection
	Score    Score
}

// PresenceEvent はユーザーのオンライン状態の変化を表す。
type PresenceEvent struct {
	UserID string
	Online bool
	At     time.Time
}
