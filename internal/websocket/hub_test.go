package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
)

func setupHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(origins, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func testMail(gen *snowflake.Generator, from, to string) *domain.Mail {
	data := "From: " + from + "\r\nTo: " + to + "\r\nSubject: hello\r\n\r\nbody body body\r\n"
	return domain.NewMail(gen, mapset.NewSet(from), mapset.NewSet(to), data)
}

func TestHub_NotifyNewMail(t *testing.T) {
	hub, srv := setupHub(t, nil)
	conn := dial(t, hub, srv)
	gen := snowflake.NewGenerator()

	mail := testMail(gen, "a@example.com", "b@example.com")
	hub.NotifyNewMail(mail)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeNewMail, msg.Type)

	var data NewMailData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, mail.ID, data.ID)
	assert.Equal(t, []string{"a@example.com"}, data.From)
	assert.Equal(t, []string{"b@example.com"}, data.To)
	assert.Equal(t, "hello", data.Subject)
	assert.Equal(t, mail.Timestamp(), data.Timestamp)
}

func TestHub_Subscribe(t *testing.T) {
	hub, srv := setupHub(t, nil)
	conn := dial(t, hub, srv)
	gen := snowflake.NewGenerator()

	t.Run("订阅地址后只收到相关邮件", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Address: "Watched@Example.com"}))
		ack := readMessage(t, conn)
		assert.Equal(t, MessageTypeSubscribed, ack.Type)

		hub.NotifyNewMail(testMail(gen, "a@example.com", "other@example.com"))
		wanted := testMail(gen, "a@example.com", "watched@example.com")
		hub.NotifyNewMail(wanted)

		msg := readMessage(t, conn)
		var data NewMailData
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, wanted.ID, data.ID)
	})

	t.Run("订阅星号恢复全部", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Address: AllAddresses}))
		readMessage(t, conn)

		mail := testMail(gen, "x@example.com", "y@example.com")
		hub.NotifyNewMail(mail)

		msg := readMessage(t, conn)
		var data NewMailData
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, mail.ID, data.ID)
	})

	t.Run("未知消息类型返回错误", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeError, msg.Type)
		assert.Contains(t, msg.Error, "bogus")
	})
}

func TestHub_Unregister(t *testing.T) {
	hub, srv := setupHub(t, nil)
	conn := dial(t, hub, srv)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CheckOrigin(t *testing.T) {
	_, srv := setupHub(t, []string{"http://allowed.example"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("拒绝未授权来源", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://evil.example"}}
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("允许授权来源", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://allowed.example"}}
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		conn.Close()
	})
}
