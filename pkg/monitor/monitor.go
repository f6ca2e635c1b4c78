// Package monitor streams device status to browsers over a websocket.
package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Handler sends a status snapshot on connect and then every interval until
// the client goes away.
type Handler struct {
	status   func() any
	interval time.Duration
	upgrader websocket.Upgrader
	logger   log.FieldLogger
}

func NewHandler(status func() any, interval time.Duration, logger log.FieldLogger) *Handler {
	return &Handler{
		status:   status,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.WithField("component", "monitor"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.logger.Debugf("Monitor client %s connected", r.RemoteAddr)

	// The read loop only notices the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debugf("Monitor read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(h.status()); err != nil {
			h.logger.Debugf("Monitor client %s gone: %v", r.RemoteAddr, err)
			return
		}

		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
