package monitor

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct {
	State string `json:"state"`
	Seq   int64  `json:"seq"`
}

func TestHandlerStreamsStatus(t *testing.T) {
	var seq atomic.Int64
	h := NewHandler(func() any {
		return status{State: "Tracking", Seq: seq.Add(1)}
	}, 10*time.Millisecond, log.New())

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, second status
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, "Tracking", first.State)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestHandlerRejectsPlainHTTP(t *testing.T) {
	h := NewHandler(func() any { return nil }, time.Second, log.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/monitor", nil))

	assert.Equal(t, 400, rec.Code)
}
