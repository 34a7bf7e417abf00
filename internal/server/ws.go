package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"github.com/ayusman/plastisort/internal/app"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// LiveHandler pushes a LiveUpdate over a WebSocket after every processed
// image or webcam frame.
type LiveHandler struct {
	app *app.App
	log logs.Log
}

// NewLiveHandler creates a new LiveHandler for a.
func NewLiveHandler(a *app.App, log logs.Log) *LiveHandler {
	return &LiveHandler{app: a, log: log}
}

// ServeHTTP handles WebSocket upgrade requests. The current view is sent
// first so a new client does not start blank.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.app.Subscribe()
	defer unsubscribe()

	// the reader notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, h.app.Current()); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := h.send(conn, u); err != nil {
				h.log.Debugf("Live client dropped: %v", err)
				return
			}
		}
	}
}

func (h *LiveHandler) send(conn *websocket.Conn, u app.LiveUpdate) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(u)
}
