package routes

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is what a radar client may send over the socket: live
// fixes from the device while it tracks
type clientMessage struct {
	Type string `json:"type"`
	fixRequest
}

// Stream pushes the radar snapshot on connect and after every change.
// The socket keeps the session alive while open.
func (h *presenceHandlers) Stream(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[api] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	pings, cancel := s.Observe()
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "location" && msg.valid() {
				msg.relay(s)
			}
		}
	}()

	send := func() error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(snapshotOf(s))
	}
	if err := send(); err != nil {
		return
	}

	keepalive := time.NewTicker(wsPingInterval)
	defer keepalive.Stop()

	for {
		select {
		case _, open := <-pings:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := send(); err != nil {
				return
			}
		case <-keepalive.C:
			s.Touch()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
