package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventsvc "github.com/zhouzirui/gamechat/backend/internal/service/events"
)

func TestEventsStreamOverWebsocket(t *testing.T) {
	hub := eventsvc.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	r := chi.NewRouter()
	New(hub, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?sessionId=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(eventsvc.Event{Type: eventsvc.EventSessionUpdated, SessionID: "other"})
	hub.Publish(eventsvc.Event{Type: eventsvc.EventSessionDeleted, SessionID: "s1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "session.deleted", event["type"])
	assert.Equal(t, "s1", event["sessionId"])
	assert.NotEmpty(t, event["ts"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/events", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := originChecker([]string{"*"})
	assert.True(t, open(req("https://evil.example")))

	check := originChecker([]string{"http://localhost:5173/", " https://games.example "})
	assert.True(t, check(req("http://localhost:5173")))
	assert.True(t, check(req("https://GAMES.example")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example")))
	assert.False(t, check(req("::not a url")))
}
