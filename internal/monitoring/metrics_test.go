package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("独立注册表可重复创建", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewMetrics(nil)
			NewMetrics(nil)
		})
	})

	t.Run("记录邮件指标", func(t *testing.T) {
		m := NewMetrics(nil)

		m.RecordMailReceived("2525")
		m.RecordMailReceived("2525")
		m.RecordMailDropped(DropReasonIncomplete)
		m.RecordMailsDeleted(DeleteSourceCleaner, 3)
		m.RecordMailsDeleted(DeleteSourceAPI, 0)
		m.UpdateMailsStored(7)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.MailsReceived.WithLabelValues("2525")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MailsDropped.WithLabelValues(DropReasonIncomplete)))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.MailsDeleted.WithLabelValues(DeleteSourceCleaner)))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.MailsDeleted.WithLabelValues(DeleteSourceAPI)))
		assert.Equal(t, 7.0, testutil.ToFloat64(m.MailsStored))
	})

	t.Run("会话计数", func(t *testing.T) {
		m := NewMetrics(nil)
		m.SMTPSessionStarted()
		m.SMTPSessionStarted()
		m.SMTPSessionFinished(time.Second)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.SMTPSessionsActive))
	})

	t.Run("nil 接收者安全", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.RecordMailReceived("25")
			m.RecordHTTPRequest("GET", "/mails", "200", time.Millisecond, 10)
			m.RecordSweep(time.Second)
			m.RegisterRuntimeCollectors()
		})
	})

	t.Run("暴露指标", func(t *testing.T) {
		m := NewMetrics(nil)
		m.RecordSMTPConnection()

		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "mailsink_smtp_connections_total 1")
	})
}
