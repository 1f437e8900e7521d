package presence

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/socialfeed/internal/model"
)

// DefaultBuffer は購読者ごとのイベントバッファの既定サイズ。
const DefaultBuffer = 64

// Subscription はHubへの購読。Events はHubが購読を終了すると閉じられる。
type Subscription struct {
	id     uint64
	events chan model.PresenceEvent
}

// Events はイベントを受信するチャネルを返す。
// チャネルが閉じられた場合、購読は解除されている（取りこぼしによる切断を含む）。
func (s *Subscription) Events() <-chan model.PresenceEvent {
	return s.events
}

// Hub はオンライン状態の変化を全購読者に配信する。
// 配信はノンブロッキングで、バッファが一杯の購読者は切断する。
// 遅い購読者が Tracker を止めることはない。
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger
}

// NewHub はHubを生成する。buffer が0以下の場合は DefaultBuffer を使用する。
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe は新しい購読を作成する。Hubが閉じられている場合は閉じたチャネルを持つ購読を返す。
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{events: make(chan model.PresenceEvent, h.buffer)}
	if h.closed {
		close(sub.events)
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe は購読を解除してチャネルを閉じる。解除済みの購読に対しては何もしない。
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish はイベントを全購読者に配信する。
// チャネルへの送信は全てロック中に行うため、閉じたチャネルへの送信は起きない。
func (h *Hub) Publish(event model.PresenceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("presence subscriber dropped",
				slog.Uint64("subscription_id", sub.id),
				slog.Int("buffer", h.buffer),
			)
			h.removeLocked(sub)
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close は全購読を終了する。以降のPublishは何もしない。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		h.removeLocked(sub)
	}
	h.closed = true
}

func (h *Hub) removeLocked(sub *Subscription) {
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.events)
}
