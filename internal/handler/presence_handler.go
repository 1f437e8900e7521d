package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/presence"
)

// WebSocketメッセージの種類
const (
	presenceSnapshotType = "presence-snapshot"
	presenceChangedType  = "presence-changed"
)

const (
	// DefaultPingInterval はWebSocket接続へのPing送信間隔の既定値。
	DefaultPingInterval = 30 * time.Second

	writeWait         = 10 * time.Second
	maxInboundMessage = 512
)

// PresenceTracker はオンライン状態ハンドラーが必要とするトラッカーのインターフェース。
type PresenceTracker interface {
	Connect(userID string) string
	Disconnect(userID, token string)
	IsOnline(userID string) bool
	Snapshot() []string
	Filter(userIDs []string) []string
}

// PresenceHub はオンライン状態の変化の購読に使用するインターフェース。
type PresenceHub interface {
	Subscribe() *presence.Subscription
	Unsubscribe(sub *presence.Subscription)
}

// PresenceConfig はPresenceHandlerの設定。
type PresenceConfig struct {
	PingInterval  time.Duration
	AllowedOrigin string // 空の場合は同一オリジンのみ許可
}

// PresenceHandler はオンライン状態の参照とWebSocket配信のHTTPハンドラー。
type PresenceHandler struct {
	tracker      PresenceTracker
	hub          PresenceHub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewPresenceHandler はPresenceHandlerを生成する。
func NewPresenceHandler(tracker PresenceTracker, hub PresenceHub, cfg PresenceConfig) *PresenceHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if cfg.AllowedOrigin != "" {
		allowed := cfg.AllowedOrigin
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowed
		}
	}

	return &PresenceHandler{
		tracker:      tracker,
		hub:          hub,
		upgrader:     upgrader,
		pingInterval: cfg.PingInterval,
	}
}

// onlineUsersResponse はオンラインユーザー一覧のレスポンス。
type onlineUsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// snapshotMessage は接続直後に1回だけ送信するオンラインユーザー一覧。
type snapshotMessage struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// changedMessage はオンライン状態の変化通知。
type changedMessage struct {
	Type   string    `json:"type"`
	User   string    `json:"user"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// OnlineUsers はオンラインのユーザー一覧を返す。
// users にカンマ区切りのIDを指定した場合は、そのうちオンラインのユーザーのみを返す。
// GET /api/presence?users=
func (h *PresenceHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var users []string
	if raw := r.URL.Query().Get("users"); raw != "" {
		users = h.tracker.Filter(strings.Split(raw, ","))
	} else {
		users = h.tracker.Snapshot()
	}
	if users == nil {
		users = []string{}
	}

	writeJSON(w, http.StatusOK, onlineUsersResponse{Users: users, Count: len(users)})
}

// Stream はWebSocket接続を確立し、オンライン状態を配信する。
// 接続中はユーザーをオンラインとして扱い、切断時に接続トークンを解放する。
// 最初にスナップショットを送信し、以降は変化のみを送信する。
// GET /ws/presence?token=
func (h *PresenceHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// スナップショットより前に購読し、その間の変化を取りこぼさない
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	token := h.tracker.Connect(userID)
	defer h.tracker.Disconnect(userID, token)

	done := make(chan struct{})
	go h.readLoop(conn, done)

	users := h.tracker.Snapshot()
	if users == nil {
		users = []string{}
	}
	if err := writeMessage(conn, snapshotMessage{Type: presenceSnapshotType, Users: users}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				slog.Warn("presence stream closed by hub", slog.String("user_id", userID))
				closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "presence stream lagged")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
				return
			}
			if err := writeMessage(conn, toChangedMessage(ev)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop はクライアントからのメッセージを読み捨て、Pongで読み取り期限を延長する。
// 接続が閉じられると done を閉じる。
func (h *PresenceHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxInboundMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func toChangedMessage(ev model.PresenceEvent) changedMessage {
	return changedMessage{
		Type:   presenceChangedType,
		User:   ev.UserID,
		Online: ev.Online,
		At:     ev.At,
	}
}
