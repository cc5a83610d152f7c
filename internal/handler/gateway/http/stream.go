package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultStreamInterval = 15 * time.Second
	streamWriteTimeout    = 10 * time.Second
	streamPingInterval    = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// IndexStream upgrades the connection and pushes a fresh snapshot on every
// tick until the client disconnects. Capture failures are pushed as error
// frames instead of tearing the connection down.
func (h *Handler) IndexStream(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(resolveAPIKey(r, r.URL.Query().Get("api_key"))); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("snapshot stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	interval := h.streamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pinger := time.NewTicker(streamPingInterval)
	defer pinger.Stop()

	if err := h.pushSnapshot(conn, r); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.pushSnapshot(conn, r); err != nil {
				return
			}
		}
	}
}

func (h *Handler) pushSnapshot(conn *websocket.Conn, r *http.Request) error {
	rows, succeeded, err := h.snapshotService.Capture(r.Context())

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err != nil {
		logrus.Warnf("snapshot stream capture failed: %v", err)
		return conn.WriteJSON(map[string]any{"error": "snapshot unavailable"})
	}

	return conn.WriteJSON(mapSnapshotResponse(rows, succeeded))
}
