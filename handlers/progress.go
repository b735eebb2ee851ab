package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
)

const (
	progressWriteTimeout = 10 * time.Second
	progressPingInterval = 30 * time.Second
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the endpoint carries no credentials and pushes only percentages
	CheckOrigin: func(*http.Request) bool { return true },
}

// Progress streams the client's pipeline progress events over a WebSocket
// until the client disconnects.
func (d *HandlersCollection) Progress() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		clientID := ps.ByName("clientId")
		if clientID == "" {
			errors.WriteHTTPBadRequest(w, "Missing client id", nil)
			return
		}

		conn, err := progressUpgrader.Upgrade(w, req, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			log.LogNoJobID("websocket upgrade failed", "client_id", clientID, "err", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := d.Bus.Subscribe(clientID)
		defer unsubscribe()

		// drain reads so close frames are processed
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					unsubscribe()
					return
				}
			}
		}()

		ping := time.NewTicker(progressPingInterval)
		defer ping.Stop()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(progressWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(progressWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
