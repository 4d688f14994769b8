package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

const (
	wsPingPeriod   = 45 * time.Second
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(*http.Request) bool { return true },
}

type stateMessage struct {
	Type  string             `json:"type"`
	State watchlist.Snapshot `json:"state"`
}

// latestState keeps only the newest snapshot for a slow socket.
type latestState struct {
	mu     sync.Mutex
	snap   watchlist.Snapshot
	notify chan struct{}
}

func (l *latestState) offer(snap watchlist.Snapshot) {
	l.mu.Lock()
	if snap.Version >= l.snap.Version {
		l.snap = snap
	}
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *latestState) take() watchlist.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// handleWS streams the session state: the current snapshot first, then one
// message per published change.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[API] WebSocket upgrade failed for %s: %v\n", sess.ID, err)
		return
	}
	defer conn.Close()

	state := &latestState{notify: make(chan struct{}, 1)}
	state.offer(sess.Controller.Snapshot())
	unsubscribe := sess.Controller.Subscribe(state.offer)
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)

	// writer
	go func() {
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-state.notify:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(stateMessage{Type: "state", State: state.take()}); err != nil {
					conn.Close()
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	// reader: only control frames are expected; pongs keep the session alive
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		s.sessions.Get(sess.ID)
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
