package domain

import (
	"bytes"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pierrec/lz4/v4"
	"github.com/tinylib/msgp/msgp"

	"mailsink/backend/internal/snowflake"
)

// CodecVersion 存储格式版本号，写在每条记录的第一个字段
const CodecVersion uint8 = 1

const mailFields = 6

var (
	// ErrUnsupportedVersion 记录的格式版本未知
	ErrUnsupportedVersion = errors.New("unsupported mail record version")
	// ErrCorruptRecord 记录结构不符合预期
	ErrCorruptRecord = errors.New("corrupt mail record")
)

// EncodeMail 将邮件序列化为 lz4 压缩的 msgpack
func EncodeMail(m *Mail) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := msgp.Encode(zw, m); err != nil {
		return nil, fmt.Errorf("encode mail %s: %w", m.ID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress mail %s: %w", m.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeMail 反序列化 EncodeMail 的输出
func DecodeMail(b []byte) (*Mail, error) {
	m := &Mail{}
	if err := msgp.Decode(lz4.NewReader(bytes.NewReader(b)), m); err != nil {
		return nil, fmt.Errorf("decode mail: %w", err)
	}
	return m, nil
}

// EncodeMsg 实现 msgp.Encodable
func (m *Mail) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteArrayHeader(mailFields); err != nil {
		return err
	}
	if err := w.WriteUint8(CodecVersion); err != nil {
		return err
	}
	key := m.ID.Bytes()
	if err := w.WriteBytes(key[:]); err != nil {
		return err
	}
	if err := writeStrings(w, m.SortedFrom()); err != nil {
		return err
	}
	if err := writeStrings(w, m.SortedTo()); err != nil {
		return err
	}
	if err := w.WriteString(m.Subject); err != nil {
		return err
	}
	return w.WriteString(m.Data)
}

// DecodeMsg 实现 msgp.Decodable
func (m *Mail) DecodeMsg(r *msgp.Reader) error {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return err
	}
	if n < 1 {
		return ErrCorruptRecord
	}

	version, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if version != CodecVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if n != mailFields {
		return ErrCorruptRecord
	}

	raw, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	if len(raw) != 16 {
		return ErrCorruptRecord
	}
	var key [16]byte
	copy(key[:], raw)
	m.ID = snowflake.FromBytes(key)

	if m.From, err = readStrings(r); err != nil {
		return err
	}
	if m.To, err = readStrings(r); err != nil {
		return err
	}
	if m.Subject, err = r.ReadString(); err != nil {
		return err
	}
	m.Data, err = r.ReadString()
	return err
}

func writeStrings(w *msgp.Writer, values []string) error {
	if err := w.WriteArrayHeader(uint32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := w.WriteString(v); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r *msgp.Reader) (mapset.Set[string], error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	set := mapset.NewSetWithSize[string](int(n))
	for i := uint32(0); i < n; i++ {
		v, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		set.Add(v)
	}
	return set, nil
}
