package health

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct{ err error }

func (f *fakeStore) Health() error { return f.err }

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func status(h http.HandlerFunc, path string) int {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestHealthChecker(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		hc := NewHealthChecker(&fakeStore{}, []string{listen(t)}, zap.NewNop())
		assert.Equal(t, http.StatusOK, status(hc.LiveEndpoint, "/live"))
		assert.Equal(t, http.StatusOK, status(hc.ReadyEndpoint, "/ready"))

		results := hc.CheckHealth()
		assert.Equal(t, "OK", results["storage"])
		assert.Contains(t, results, "timestamp")
	})

	t.Run("存储异常", func(t *testing.T) {
		hc := NewHealthChecker(&fakeStore{err: errors.New("disk gone")}, nil, zap.NewNop())
		assert.Equal(t, http.StatusServiceUnavailable, status(hc.LiveEndpoint, "/live"))
		assert.Equal(t, http.StatusServiceUnavailable, status(hc.ReadyEndpoint, "/ready"))
		assert.Contains(t, hc.CheckHealth()["storage"], "disk gone")
	})

	t.Run("SMTP 端口不可达时未就绪", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		ln.Close()

		hc := NewHealthChecker(&fakeStore{}, []string{addr}, nil)
		assert.Equal(t, http.StatusOK, status(hc.LiveEndpoint, "/live"))
		assert.Equal(t, http.StatusServiceUnavailable, status(hc.ReadyEndpoint, "/ready"))
	})

	t.Run("Handler 路由", func(t *testing.T) {
		hc := NewHealthChecker(&fakeStore{}, nil, nil)
		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
