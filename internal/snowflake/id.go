package snowflake

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidID 表示无法解析的 ID 文本
var ErrInvalidID = errors.New("invalid mail id")

var maxID = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ID 128 位无符号标识符，高位编码毫秒时间戳，低 12 位为同毫秒内的序号
type ID struct {
	hi uint64
	lo uint64
}

// FromUint64 由 64 位整数构造 ID
func FromUint64(v uint64) ID {
	return ID{lo: v}
}

// FromBytes 从大端 16 字节还原 ID
func FromBytes(b [16]byte) ID {
	return ID{
		hi: binary.BigEndian.Uint64(b[:8]),
		lo: binary.BigEndian.Uint64(b[8:]),
	}
}

// ParseID 解析十进制 ID 文本
func ParseID(s string) (ID, error) {
	if s == "" || len(s) > 39 {
		return ID{}, ErrInvalidID
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ID{}, ErrInvalidID
		}
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Cmp(maxID) > 0 {
		return ID{}, ErrInvalidID
	}

	var buf [16]byte
	n.FillBytes(buf[:])
	return FromBytes(buf), nil
}

// ParseHex 解析 32 位十六进制存储键
func ParseHex(s string) (ID, error) {
	if len(s) != 32 {
		return ID{}, ErrInvalidID
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, ErrInvalidID
	}
	var buf [16]byte
	copy(buf[:], raw)
	return FromBytes(buf), nil
}

// Bytes 返回大端字节序表示，字节序与数值序一致，可直接用于有序存储的键
func (id ID) Bytes() [16]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], id.hi)
	binary.BigEndian.PutUint64(buf[8:], id.lo)
	return buf
}

// Hex 返回定长小写十六进制形式
func (id ID) Hex() string {
	b := id.Bytes()
	return hex.EncodeToString(b[:])
}

func (id ID) big() *big.Int {
	b := id.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// String 返回十进制形式
func (id ID) String() string {
	if id.hi == 0 {
		return strconv.FormatUint(id.lo, 10)
	}
	return id.big().String()
}

// IsZero 是否为零值
func (id ID) IsZero() bool {
	return id.hi == 0 && id.lo == 0
}

// Compare 比较两个 ID，返回 -1、0 或 1
func (id ID) Compare(other ID) int {
	switch {
	case id.hi < other.hi:
		return -1
	case id.hi > other.hi:
		return 1
	case id.lo < other.lo:
		return -1
	case id.lo > other.lo:
		return 1
	default:
		return 0
	}
}

// Less 是否小于 other
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// Timestamp 解码 ID 中的毫秒时间戳
func (id ID) Timestamp() uint64 {
	return ToTimestamp(id)
}

// MarshalJSON 以 JSON 数字输出
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalJSON 接受 JSON 数字或带引号的十进制字符串
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
