package presence

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingPublisher は配信されたイベントを記録する。
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PresenceEvent
}

func (p *recordingPublisher) Publish(ev model.PresenceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) count(userID string, online bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.UserID == userID && ev.Online == online {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) forUser(userID string) []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bool
	for _, ev := range p.events {
		if ev.UserID == userID {
			out = append(out, ev.Online)
		}
	}
	return out
}

// gaugeMetrics はオンライン数の最新値を記録する。
type gaugeMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	online  int
	changes int
}

func (g *gaugeMetrics) SetOnlineUsers(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.online = n
}

func (g *gaugeMetrics) RecordPresenceChange(bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.changes++
}

func TestTracker_ConnectMakesOnline(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil, 0)

	tr.Connect("u1")

	if !tr.IsOnline("u1") {
		t.Error("expected u1 to be online")
	}
	if snap := tr.Snapshot(); len(snap) != 1 || snap[0] != "u1" {
		t.Errorf("Snapshot() = %v, want [u1]", snap)
	}
	if n := pub.count("u1", true); n != 1 {
		t.Errorf("online events = %d, want 1", n)
	}
}

func TestTracker_MultipleConnections(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil, 0)

	first := tr.Connect("u1")
	second := tr.Connect("u1")
	if first == second {
		t.Fatal("tokens must be distinct")
	}
	if n := pub.count("u1", true); n != 1 {
		t.Errorf("online events after two connects = %d, want 1", n)
	}

	tr.Disconnect("u1", first)
	if !tr.IsOnline("u1") {
		t.Error("u1 should stay online while a connection remains")
	}
	if n := pub.count("u1", false); n != 0 {
		t.Errorf("offline events = %d, want 0", n)
	}

	tr.Disconnect("u1", second)
	if tr.IsOnline("u1") {
		t.Error("u1 should be offline after the last disconnect")
	}
	if snap := tr.Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot() = %v, want empty", snap)
	}
	if n := pub.count("u1", false); n != 1 {
		t.Errorf("offline events = %d, want exactly 1", n)
	}
}

func TestTracker_DuplicateAndUnknownDisconnect(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil, 0)

	token := tr.Connect("u1")
	tr.Disconnect("u1", "not-a-token")
	if !tr.IsOnline("u1") {
		t.Fatal("unknown token must not disconnect the user")
	}

	tr.Disconnect("u1", token)
	tr.Disconnect("u1", token)
	tr.Disconnect("nobody", token)

	if got := pub.forUser("u1"); len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("events = %v, want [true false]", got)
	}
	if n := tr.Connections("u1"); n != 0 {
		t.Errorf("Connections() = %d, want 0", n)
	}
}

func TestTracker_SnapshotSorted(t *testing.T) {
	tr := NewTracker(nil, nil, 4)
	for _, u := range []string{"carol", "alice", "bob"} {
		tr.Connect(u)
	}

	snap := tr.Snapshot()
	want := []string{"alice", "bob", "carol"}
	if fmt.Sprint(snap) != fmt.Sprint(want) {
		t.Errorf("Snapshot() = %v, want %v", snap, want)
	}
	if got := tr.Filter([]string{"alice", "dave", "carol"}); fmt.Sprint(got) != "[alice carol]" {
		t.Errorf("Filter() = %v", got)
	}
}

func TestTracker_Metrics(t *testing.T) {
	m := &gaugeMetrics{}
	tr := NewTracker(nil, m, 0)

	a := tr.Connect("a")
	tr.Connect("b")
	tr.Connect("b")
	tr.Disconnect("a", a)

	if tr.OnlineCount() != 1 {
		t.Errorf("OnlineCount() = %d, want 1", tr.OnlineCount())
	}
	if m.online != 1 {
		t.Errorf("online gauge = %d, want 1", m.online)
	}
	if m.changes != 3 {
		t.Errorf("presence changes = %d, want 3", m.changes)
	}
}

// TestTracker_ConcurrentConnections は同一ユーザーの接続・切断が並行しても、
// イベントがオンライン・オフラインの交互になり、最終的にオフラインになることを確認する。
func TestTracker_ConcurrentConnections(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil, 0)

	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			for range 20 {
				token := tr.Connect("u1")
				tr.Disconnect("u1", token)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if tr.IsOnline("u1") {
		t.Error("u1 should be offline")
	}
	events := pub.forUser("u1")
	if len(events) == 0 || len(events)%2 != 0 {
		t.Fatalf("events = %d, want a positive even number", len(events))
	}
	for i, online := range events {
		if online != (i%2 == 0) {
			t.Fatalf("event %d online=%v breaks alternation", i, online)
		}
	}
	if tr.OnlineCount() != 0 {
		t.Errorf("OnlineCount() = %d, want 0", tr.OnlineCount())
	}
}

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	hub := NewHub(4, nil)
	defer hub.Close()
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish(model.PresenceEvent{UserID: "u1", Online: true})

	for _, sub := range []*Subscription{a, b} {
		ev := <-sub.Events()
		if ev.UserID != "u1" || !ev.Online {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	defer hub.Close()
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	hub.Publish(model.PresenceEvent{UserID: "u1", Online: true})
	<-fast.Events()
	hub.Publish(model.PresenceEvent{UserID: "u1", Online: false})

	if hub.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", hub.Subscribers())
	}

	// 切断前にバッファに入っていたイベントは読めて、その後チャネルが閉じる
	if ev, ok := <-slow.Events(); !ok || !ev.Online {
		t.Errorf("first buffered event = %+v, %v", ev, ok)
	}
	if _, ok := <-slow.Events(); ok {
		t.Error("slow subscriber channel should be closed")
	}

	if ev := <-fast.Events(); ev.Online {
		t.Errorf("fast subscriber event = %+v, want offline", ev)
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(0, nil)
	sub := hub.Subscribe()

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	other := hub.Subscribe()
	hub.Close()
	if _, ok := <-other.Events(); ok {
		t.Error("channel should be closed after Close")
	}

	late := hub.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("subscription after Close should be closed")
	}
	hub.Publish(model.PresenceEvent{UserID: "u1"})
}

// TestHub_WithTracker は購読者のゴルーチンがHubの終了とともに終わることを確認する。
func TestHub_WithTracker(t *testing.T) {
	hub := NewHub(16, nil)
	tr := NewTracker(hub, nil, 0)
	sub := hub.Subscribe()

	received := make(chan []model.PresenceEvent)
	go func() {
		var got []model.PresenceEvent
		for ev := range sub.Events() {
			got = append(got, ev)
		}
		received <- got
	}()

	token := tr.Connect("alice")
	tr.Connect("bob")
	tr.Disconnect("alice", token)
	hub.Close()

	got := <-received
	if len(got) != 3 {
		t.Fatalf("received %d events, want 3", len(got))
	}
	if got[0].UserID != "alice" || !got[0].Online || got[2].UserID != "alice" || got[2].Online {
		t.Errorf("events = %+v", got)
	}
}
