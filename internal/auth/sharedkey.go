// Package auth 保存并校验 HTTP 接口使用的共享密钥。
package auth

import (
	"errors"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/blake2b"
)

// ErrEmptyKey 共享密钥为空
var ErrEmptyKey = errors.New("shared key must not be empty")

// SharedKey 共享密钥校验器
//
// 只保留密钥的 BLAKE2b-256 摘要，并放在 memguard 加密区中；
// 校验时比较候选值的摘要，比较过程为常量时间。
type SharedKey struct {
	digest *memguard.Enclave
}

// NewSharedKey 创建校验器，调用方之后可以丢弃 key
func NewSharedKey(key string) (*SharedKey, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	sum := blake2b.Sum256([]byte(key))
	// NewEnclave 会擦除传入的切片
	return &SharedKey{digest: memguard.NewEnclave(sum[:])}, nil
}

// Verify 判断候选值是否与共享密钥一致
func (k *SharedKey) Verify(candidate string) bool {
	if candidate == "" {
		return false
	}

	buf, err := k.digest.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()

	sum := blake2b.Sum256([]byte(candidate))
	return buf.EqualTo(sum[:])
}
