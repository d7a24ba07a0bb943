package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage/memory"
)

const testMessage = "From: Sender <sender@example.com>\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: integration\r\n" +
	"\r\n" +
	"Hello from the integration test.\r\n"

type chanNotifier chan *domain.Mail

func (c chanNotifier) NotifyNewMail(mail *domain.Mail) { c <- mail }

type testServer struct {
	srv    *Server
	store  *memory.Store
	notify chanNotifier
	addr   string
}

func startServer(t *testing.T, mutate func(*ServerConfig)) *testServer {
	t.Helper()

	cfg := ServerConfig{
		Host:  "127.0.0.1",
		Ports: []int{0},
		Session: SessionConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxMessageBytes: 1 << 20,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store := memory.NewStore()
	notify := make(chanNotifier, 8)
	srv := NewServer(cfg, snowflake.NewGenerator(), store, nil,
		WithNotifier(notify),
		WithMetrics(monitoring.NewMetrics(nil)),
	)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &testServer{srv: srv, store: store, notify: notify, addr: srv.Addrs()[0].String()}
}

func (ts *testServer) waitMail(t *testing.T) *domain.Mail {
	t.Helper()
	select {
	case mail := <-ts.notify:
		return mail
	case <-time.After(5 * time.Second):
		t.Fatal("no mail stored")
		return nil
	}
}

func sendWithClient(t *testing.T, c *gosmtp.Client) {
	t.Helper()
	require.NoError(t, c.Mail("envelope@example.com", nil))
	require.NoError(t, c.Rcpt("rcpt@example.com", nil))
	w, err := c.Data()
	require.NoError(t, err)
	_, err = w.Write([]byte(testMessage))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())
}

func TestServer_Plaintext(t *testing.T) {
	ts := startServer(t, nil)

	c, err := gosmtp.Dial(ts.addr)
	require.NoError(t, err)
	require.NoError(t, c.Hello("localhost"))
	sendWithClient(t, c)

	mail := ts.waitMail(t)
	assert.Equal(t, []string{"envelope@example.com", "sender@example.com"}, mail.SortedFrom())
	assert.Equal(t, []string{"rcpt@example.com"}, mail.SortedTo())
	assert.Equal(t, "integration", mail.Subject)
	assert.Equal(t, testMessage, mail.Data)

	stored, err := ts.store.Get(mail.ID)
	require.NoError(t, err)
	assert.Equal(t, mail.Data, stored.Data)
	assert.Equal(t, int64(1), ts.srv.Stats().Stored)
}

func TestServer_StartTLS(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)
	tlsConfig, err := LoadTLSConfig(certFile, keyFile, nil)
	require.NoError(t, err)

	ts := startServer(t, func(cfg *ServerConfig) {
		cfg.Session.TLSConfig = tlsConfig
	})

	// 明文基准
	plain, err := gosmtp.Dial(ts.addr)
	require.NoError(t, err)
	require.NoError(t, plain.Hello("localhost"))
	ok, _ := plain.Extension("STARTTLS")
	assert.True(t, ok)
	sendWithClient(t, plain)
	plainMail := ts.waitMail(t)

	c, err := gosmtp.DialStartTLS(ts.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	require.NoError(t, c.Hello("localhost"))

	// 升级后不再提供 STARTTLS
	ok, _ = c.Extension("STARTTLS")
	assert.False(t, ok)
	_, isTLS := c.TLSConnectionState()
	assert.True(t, isTLS)

	sendWithClient(t, c)
	tlsMail := ts.waitMail(t)

	assert.True(t, plainMail.ID.Less(tlsMail.ID))
	assert.Equal(t, plainMail.SortedFrom(), tlsMail.SortedFrom())
	assert.Equal(t, plainMail.SortedTo(), tlsMail.SortedTo())
	assert.Equal(t, plainMail.Subject, tlsMail.Subject)
	assert.Equal(t, plainMail.Data, tlsMail.Data)

	n, err := ts.store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestServer_ShortDataNotPersisted(t *testing.T) {
	ts := startServer(t, nil)

	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	readLine := func() string {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(line, "\r\n")
	}

	assert.Equal(t, "220 mail-sink", readLine())
	for _, cmd := range []string{"MAIL FROM:<a@x.com>", "RCPT TO:<b@x.com>"} {
		_, err := conn.Write([]byte(cmd + "\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "250 OK", readLine())
	}
	_, err = conn.Write([]byte("DATA\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "354 End data with <CR><LF>.<CR><LF>", readLine())
	_, err = conn.Write([]byte("short\r\n.\r\nQUIT\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "250 OK", readLine())
	assert.Equal(t, "221 Bye", readLine())

	require.Eventually(t, func() bool {
		st := ts.srv.Stats()
		return st.Accepted == 1 && st.Active == 0
	}, 5*time.Second, 10*time.Millisecond)

	n, err := ts.store.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServer_LimiterRejects(t *testing.T) {
	ts := startServer(t, func(cfg *ServerConfig) {
		cfg.MaxConnections = 1
	})

	first, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer first.Close()
	greeting, err := bufio.NewReader(first).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "220 mail-sink\r\n", greeting)

	second, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer second.Close()
	reply, err := bufio.NewReader(second).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "421 Too many connections\r\n", reply)

	assert.Equal(t, int64(1), ts.srv.Stats().Rejected)
}

func TestServer_MultiplePorts(t *testing.T) {
	ts := startServer(t, func(cfg *ServerConfig) {
		cfg.Ports = []int{0, 0}
	})

	addrs := ts.srv.Addrs()
	require.Len(t, addrs, 2)
	assert.NotEqual(t, addrs[0].String(), addrs[1].String())

	for _, addr := range addrs {
		c, err := gosmtp.Dial(addr.String())
		require.NoError(t, err)
		require.NoError(t, c.Hello("localhost"))
		sendWithClient(t, c)
		ts.waitMail(t)
	}
}

func TestServer_ListenWithoutPorts(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1"}, snowflake.NewGenerator(), memory.NewStore(), nil)
	assert.Error(t, srv.Listen())
}
