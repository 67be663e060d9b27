package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widget-builder/internal/builder/events"
)

func TestHubDeliversEvents(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, zerolog.Nop())
	t.Cleanup(hub.Close)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.Publish(events.HierarchyChanged, map[string]any{"widgetIds": []string{"w1"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev events.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, events.HierarchyChanged, ev.Name)
	assert.NotEmpty(t, ev.ID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, zerolog.Nop())
	t.Cleanup(hub.Close)

	slow := &client{send: make(chan []byte, 1)}
	hub.register(slow)

	bus.Publish(events.WidgetCreated, nil)
	assert.Equal(t, 1, hub.Clients())
	bus.Publish(events.WidgetCreated, nil)
	assert.Equal(t, 0, hub.Clients())

	_, open := <-slow.send
	assert.True(t, open, "buffered message is still readable")
	_, open = <-slow.send
	assert.False(t, open)
}

func TestHubCloseUnsubscribes(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, zerolog.Nop())
	c := &client{send: make(chan []byte, 4)}
	hub.register(c)
	hub.Close()

	assert.Equal(t, 0, hub.Clients())
	bus.Publish(events.WidgetDeleted, nil)
	_, open := <-c.send
	assert.False(t, open)
}
