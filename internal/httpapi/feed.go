package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lukasbauer/callguard/internal/conversation"
)

const (
	feedBuffer     = 32
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FeedEvent is one message on the live conversation stream. Publishes for
// one call can arrive out of order; clients keep the event with the highest
// Version per session and drop older ones.
type FeedEvent struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	At        time.Time            `json:"at"`
	Version   int64                `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Session   conversation.Session `json:"session"`
}

// Feed fans session updates out to connected operator websockets. Slow
// subscribers drop messages instead of blocking the call path.
type Feed struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

func NewFeed(logger *log.Logger) *Feed {
	return &Feed{
		logger:  logger,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts s to every subscriber. Safe on a nil Feed.
func (f *Feed) Publish(s conversation.Session) {
	if f == nil {
		return
	}
	msg, err := json.Marshal(FeedEvent{
		ID:        uuid.New().String(),
		Type:      "session_updated",
		At:        time.Now().UTC(),
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Session:   s,
	})
	if err != nil {
		f.logger.Printf("feed: marshal session %s: %v", s.ID, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- msg:
		default:
			f.logger.Printf("feed: subscriber full, dropping update for %s", s.ID)
		}
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) subscribe() (chan []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan []byte, feedBuffer)
	f.clients[ch] = struct{}{}
	return ch, true
}

func (f *Feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[ch]; ok {
		delete(f.clients, ch)
		close(ch)
	}
}

// Close disconnects all subscribers and refuses new ones.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.clients {
		delete(f.clients, ch)
		close(ch)
	}
}

func (r *Router) handleConversationStream(w http.ResponseWriter, req *http.Request) {
	if r.feed == nil {
		http.Error(w, `{"error": "live feed disabled"}`, http.StatusServiceUnavailable)
		return
	}

	ch, ok := r.feed.subscribe()
	if !ok {
		http.Error(w, `{"error": "shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.feed.unsubscribe(ch)
		r.logger.Printf("feed: upgrade failed: %v", err)
		return
	}

	operator := operatorFromContext(req.Context())
	r.logger.Printf("feed: subscriber connected (operator=%q)", operator)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readFeedClient(conn)
	}()

	writeFeed(conn, ch, done)
	r.feed.unsubscribe(ch)
	_ = conn.Close()
	<-done
	r.logger.Printf("feed: subscriber disconnected (operator=%q)", operator)
}

// readFeedClient discards client frames; it exists to process pongs and
// notice the close.
func readFeedClient(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFeed(conn *websocket.Conn, ch <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
