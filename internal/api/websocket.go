package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/events"
	"github.com/gorilla/websocket"
)

const (
	// Number of recent events to replay on connection
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Operator UIs connect from other hosts on the venue network.
		return true
	},
}

// wsEventsHandler streams the live event feed to an operator console,
// replaying the recent buffer first so a reconnecting console sees what
// it missed.
func (s *Server) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := events.Subscribe()
	cleanup := func() {
		events.Unsubscribe(sub)
		conn.Close()
	}

	for _, e := range events.RecentEvents(recentEventsCount) {
		if !writeEvent(conn, e) {
			cleanup()
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			cleanup()
			return

		case e, ok := <-sub:
			if !ok {
				conn.Close()
				return
			}
			if !writeEvent(conn, e) {
				cleanup()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cleanup()
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) bool {
	data, err := json.Marshal(e)
	if err != nil {
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("ws write failed: %v", err)
		return false
	}
	return true
}
