package cleaner

import (
	"context"
	"strings"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage/memory"
)

func mailAt(t *testing.T, store *memory.Store, at time.Time) *domain.Mail {
	t.Helper()
	gen := snowflake.NewGenerator(snowflake.WithClock(func() time.Time { return at }))
	mail := domain.NewMail(gen, mapset.NewSet("a@x.com"), mapset.NewSet("b@x.com"), strings.Repeat("x", 40))
	require.NoError(t, store.Insert(mail))
	return mail
}

func TestCleaner_Sweep(t *testing.T) {
	now := time.Now()
	store := memory.NewStore()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	old := mailAt(t, store, now.Add(-2*time.Minute))
	fresh := mailAt(t, store, now.Add(-30*time.Second))

	c := New(store, time.Minute, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithMetrics(metrics),
	)

	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(old.ID)
	assert.Error(t, err)
	_, err = store.Get(fresh.ID)
	assert.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MailsStored))

	t.Run("再次清理无变化", func(t *testing.T) {
		removed, err := c.Sweep()
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("时间推进后删除剩余邮件", func(t *testing.T) {
		later := New(store, time.Minute, nil, WithClock(func() time.Time { return now.Add(2 * time.Minute) }))
		removed, err := later.Sweep()
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestCleaner_FutureMailKept(t *testing.T) {
	now := time.Now()
	store := memory.NewStore()
	mailAt(t, store, now.Add(time.Hour))

	c := New(store, time.Minute, nil, WithClock(func() time.Time { return now }))
	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCleaner_Run(t *testing.T) {
	now := time.Now()
	store := memory.NewStore()
	mailAt(t, store, now.Add(-time.Hour))

	c := New(store, time.Minute, nil, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := store.Len()
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cleaner did not stop after cancel")
	}
}
