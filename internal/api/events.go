package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
	// The API serves local UI collaborators; origin policy is theirs.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades the connection and relays every bus event to
// the subscriber as a JSON frame until either side disconnects. Slow
// consumers miss events rather than applying back-pressure to the
// manager (the bus drops on full buffers).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: we expect no frames from the client, but reading
	// is how gorilla surfaces close frames and dead peers.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream subscribed", "remote", r.RemoteAddr)

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
