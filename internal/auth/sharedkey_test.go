package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedKey(t *testing.T) {
	key, err := NewSharedKey("prouteur")
	require.NoError(t, err)

	t.Run("正确的密钥", func(t *testing.T) {
		assert.True(t, key.Verify("prouteur"))
		// 可重复校验
		assert.True(t, key.Verify("prouteur"))
	})

	t.Run("错误的密钥", func(t *testing.T) {
		assert.False(t, key.Verify("Prouteur"))
		assert.False(t, key.Verify("prouteur "))
		assert.False(t, key.Verify(""))
	})

	t.Run("空密钥不允许创建", func(t *testing.T) {
		_, err := NewSharedKey("")
		assert.ErrorIs(t, err, ErrEmptyKey)
	})
}
