package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
	"mailsink/backend/internal/storage/storagetest"
)

// 需要真实的 Redis：MAILSINK_TEST_REDIS=localhost:6379
func setupTestStore(t *testing.T) *Store {
	addr := os.Getenv("MAILSINK_TEST_REDIS")
	if addr == "" {
		t.Skip("MAILSINK_TEST_REDIS not set")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err())

	prefix := fmt.Sprintf("mailsink-test-%d", time.Now().UnixNano())
	store := NewStoreWithClient(rdb, prefix, nil)
	t.Cleanup(func() {
		store.Clear()
		store.Close()
	})
	return store
}

func TestRedisStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.MailStore {
		return setupTestStore(t)
	})
}

func TestRedisStore_ScanAcrossBatches(t *testing.T) {
	store := setupTestStore(t)
	gen := snowflake.NewGenerator()

	total := scanBatch*2 + 7
	var last snowflake.ID
	for i := 0; i < total; i++ {
		mail := storagetest.NewMail(gen, i)
		require.NoError(t, store.Insert(mail))
		last = mail.ID
	}

	count := 0
	var first snowflake.ID
	var prev snowflake.ID
	require.NoError(t, store.ScanReverse(func(m *domain.Mail) bool {
		if count == 0 {
			first = m.ID
		} else {
			assert.True(t, m.ID.Less(prev))
		}
		prev = m.ID
		count++
		return true
	}))
	assert.Equal(t, total, count)
	assert.Equal(t, last, first)
}

func TestRedisStore_Closed(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.Len()
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
	assert.ErrorIs(t, store.Health(), storage.ErrStoreClosed)
}
