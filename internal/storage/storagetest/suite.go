// Package storagetest 提供 storage.MailStore 实现共用的一致性测试。
package storagetest

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

// Factory 为每个子测试创建一个全新的空存储
type Factory func(t *testing.T) storage.MailStore

// NewMail 构造一封测试邮件
func NewMail(gen *snowflake.Generator, n int) *domain.Mail {
	from := mapset.NewSet(fmt.Sprintf("sender%d@example.com", n))
	to := mapset.NewSet(fmt.Sprintf("rcpt%d@example.com", n), "shared@example.com")
	data := fmt.Sprintf("Subject: message %d\r\n\r\n%s\r\n", n, strings.Repeat("x", 32))
	return domain.NewMail(gen, from, to, data)
}

// Run 执行完整的一致性测试
func Run(t *testing.T, factory Factory) {
	t.Run("写入后读取", func(t *testing.T) {
		store := factory(t)
		gen := snowflake.NewGenerator()

		mail := NewMail(gen, 1)
		require.NoError(t, store.Insert(mail))

		got, err := store.Get(mail.ID)
		require.NoError(t, err)
		assert.Equal(t, mail.ID, got.ID)
		assert.Equal(t, mail.SortedFrom(), got.SortedFrom())
		assert.Equal(t, mail.SortedTo(), got.SortedTo())
		assert.Equal(t, mail.Subject, got.Subject)
		assert.Equal(t, mail.Data, got.Data)
	})

	t.Run("读取不存在的邮件", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(snowflake.FromUint64(42))
		assert.ErrorIs(t, err, storage.ErrMailNotFound)
	})

	t.Run("重复写入覆盖", func(t *testing.T) {
		store := factory(t)
		gen := snowflake.NewGenerator()

		mail := NewMail(gen, 1)
		require.NoError(t, store.Insert(mail))
		mail.Data += "changed"
		require.NoError(t, store.Insert(mail))

		n, err := store.Len()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.Get(mail.ID)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(got.Data, "changed"))
	})

	t.Run("倒序遍历", func(t *testing.T) {
		store := factory(t)
		gen := snowflake.NewGenerator()

		var ids []snowflake.ID
		for i := 0; i < 5; i++ {
			mail := NewMail(gen, i)
			ids = append(ids, mail.ID)
			require.NoError(t, store.Insert(mail))
		}

		var seen []snowflake.ID
		require.NoError(t, store.ScanReverse(func(m *domain.Mail) bool {
			seen = append(seen, m.ID)
			return true
		}))
		require.Len(t, seen, 5)
		for i := range seen {
			assert.Equal(t, ids[len(ids)-1-i], seen[i])
		}

		seen = seen[:0]
		require.NoError(t, store.ScanReverse(func(m *domain.Mail) bool {
			seen = append(seen, m.ID)
			return len(seen) < 2
		}))
		assert.Equal(t, []snowflake.ID{ids[4], ids[3]}, seen)

		keys, err := store.Keys()
		require.NoError(t, err)
		assert.Equal(t, ids, keys)
	})

	t.Run("删除", func(t *testing.T) {
		store := factory(t)
		gen := snowflake.NewGenerator()

		first, second := NewMail(gen, 1), NewMail(gen, 2)
		require.NoError(t, store.Insert(first))
		require.NoError(t, store.Insert(second))

		require.NoError(t, store.Remove(first.ID))
		assert.ErrorIs(t, store.Remove(first.ID), storage.ErrMailNotFound)

		_, err := store.Get(first.ID)
		assert.ErrorIs(t, err, storage.ErrMailNotFound)

		keys, err := store.Keys()
		require.NoError(t, err)
		assert.Equal(t, []snowflake.ID{second.ID}, keys)
	})

	t.Run("清空", func(t *testing.T) {
		store := factory(t)
		gen := snowflake.NewGenerator()

		for i := 0; i < 3; i++ {
			require.NoError(t, store.Insert(NewMail(gen, i)))
		}
		size, err := store.SizeOnDisk()
		require.NoError(t, err)
		assert.Greater(t, size, int64(0))

		require.NoError(t, store.Clear())

		n, err := store.Len()
		require.NoError(t, err)
		assert.Zero(t, n)

		calls := 0
		require.NoError(t, store.ScanReverse(func(*domain.Mail) bool {
			calls++
			return true
		}))
		assert.Zero(t, calls)
	})

	t.Run("并发写入", func(t *testing.T) {
		store := factory(t)
		gen := snowflake.NewGenerator()

		const workers = 8
		const perWorker = 10

		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					errs <- store.Insert(NewMail(gen, w*perWorker+i))
				}
			}(w)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		n, err := store.Len()
		require.NoError(t, err)
		assert.Equal(t, workers*perWorker, n)
		assert.NoError(t, store.Health())
	})
}
