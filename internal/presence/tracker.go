// Package presence は接続トークンの参照カウントによるオンライン状態の管理と、
// その変化の購読者への配信を提供する。
package presence

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/shard"
)

// Publisher はオンライン状態の変化の配信先。
// Publish はブロックしてはならない。
type Publisher interface {
	Publish(event model.PresenceEvent)
}

// tokenSet はユーザーごとの有効な接続トークンの集合。
type tokenSet map[string]struct{}

// Tracker はユーザーごとの接続トークン集合を保持する。
// 集合が空でないユーザーがオンライン。集合が空になったエントリは削除する。
type Tracker struct {
	entries   *shard.Table[tokenSet]
	publisher Publisher
	metrics   metrics.MetricsCollector
	online    atomic.Int64

	now      func() time.Time
	newToken func() string
}

// NewTracker はTrackerを生成する。publisherがnilの場合は変化を配信しない。
func NewTracker(publisher Publisher, m metrics.MetricsCollector, stripes int) *Tracker {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Tracker{
		entries:   shard.New[tokenSet](stripes),
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

// Connect はユーザーに新しい接続トークンを追加して返す。
// 0件から1件になった場合のみ、オンラインへの変化を1回だけ配信する。
func (t *Tracker) Connect(userID string) string {
	token := t.newToken()

	t.entries.Update(userID, func(m map[string]tokenSet) {
		set, ok := m[userID]
		if !ok {
			set = tokenSet{}
			m[userID] = set
		}
		set[token] = struct{}{}
		if len(set) == 1 {
			// ストライプのロック中に配信し、同一ユーザーのイベント順序を状態遷移の順序と一致させる
			t.changed(userID, true)
		}
	})
	return token
}

// Disconnect はトークンを削除する。
// 集合が空になった場合はエントリを削除し、オフラインへの変化を1回だけ配信する。
// 未知のトークン（重複・遅延した切断通知）は無視する。
func (t *Tracker) Disconnect(userID, token string) {
	t.entries.Update(userID, func(m map[string]tokenSet) {
		set, ok := m[userID]
		if !ok {
			return
		}
		if _, ok := set[token]; !ok {
			return
		}
		delete(set, token)
		if len(set) == 0 {
			delete(m, userID)
			t.changed(userID, false)
		}
	})
}

// IsOnline はユーザーがオンラインかどうかを返す。
func (t *Tracker) IsOnline(userID string) bool {
	var online bool
	t.entries.View(userID, func(m map[string]tokenSet) {
		_, online = m[userID]
	})
	return online
}

// Connections はユーザーの有効な接続数を返す。
func (t *Tracker) Connections(userID string) int {
	var n int
	t.entries.View(userID, func(m map[string]tokenSet) {
		n = len(m[userID])
	})
	return n
}

// Snapshot はある一時点のオンラインユーザーをID昇順で返す。
func (t *Tracker) Snapshot() []string {
	var users []string
	t.entries.ViewAll(func(userID string, _ tokenSet) {
		users = append(users, userID)
	})
	slices.Sort(users)
	return users
}

// OnlineCount はオンラインユーザー数を返す。
func (t *Tracker) OnlineCount() int {
	return int(t.online.Load())
}

// Filter は userIDs のうちオンラインのものだけを返す。
func (t *Tracker) Filter(userIDs []string) []string {
	return lo.Filter(userIDs, func(id string, _ int) bool {
		return t.IsOnline(id)
	})
}

func (t *Tracker) changed(userID string, online bool) {
	if online {
		t.metrics.SetOnlineUsers(int(t.online.Add(1)))
	} else {
		t.metrics.SetOnlineUsers(int(t.online.Add(-1)))
	}
	t.metrics.RecordPresenceChange(online)

	if t.publisher != nil {
		t.publisher.Publish(model.PresenceEvent{UserID: userID, Online: online, At: t.now().UTC()})
	}
}
