package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/app/notification"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandler_StreamsTenantNotifications(t *testing.T) {
	notifier := notification.NewManager(nil)
	srv := httptest.NewServer(NewHandler(notifier, nil))
	defer srv.Close()

	conn := dial(t, srv, "?tenant=g1")
	require.Eventually(t, func() bool { return notifier.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	notifier.Broadcast(&notification.Notification{Tenant: "g2", Message: "other"})
	notifier.Broadcast(&notification.Notification{Tenant: "g1", Type: "now_playing", Message: "🎵 Halo"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got notification.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "🎵 Halo", got.Message)
	assert.Equal(t, "now_playing", got.Type)
}

func TestHandler_UnsubscribesOnClose(t *testing.T) {
	notifier := notification.NewManager(nil)
	srv := httptest.NewServer(NewHandler(notifier, nil))
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return notifier.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return notifier.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_RejectsUnknownOrigin(t *testing.T) {
	notifier := notification.NewManager(nil)
	srv := httptest.NewServer(NewHandler(notifier, []string{"https://ok.example"}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, 0, notifier.SubscriberCount())
}

func TestClient_SendDropsWhenFull(t *testing.T) {
	c := &client{send: make(chan *notification.Notification, 1), done: make(chan struct{})}

	require.NoError(t, c.Send(&notification.Notification{}))
	assert.ErrorIs(t, c.Send(&notification.Notification{}), errSlowClient)

	c.close()
	assert.Error(t, c.Send(&notification.Notification{}))
}
