package memory

import (
	"sort"
	"sync"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

// Store 内存存储实现，保存编码后的记录，按 ID 升序维护键列表
type Store struct {
	mu     sync.Mutex
	keys   []snowflake.ID
	values map[snowflake.ID][]byte
	bytes  int64
	closed bool
}

var _ storage.MailStore = (*Store)(nil)

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		values: make(map[snowflake.ID][]byte),
	}
}

// Insert 写入邮件，同 ID 覆盖
func (s *Store) Insert(mail *domain.Mail) error {
	encoded, err := domain.EncodeMail(mail)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	if old, ok := s.values[mail.ID]; ok {
		s.bytes -= int64(len(old))
	} else {
		s.insertKey(mail.ID)
	}
	s.values[mail.ID] = encoded
	s.bytes += int64(len(encoded))
	return nil
}

// insertKey ID 单调递增，绝大多数情况下直接追加
func (s *Store) insertKey(id snowflake.ID) {
	n := len(s.keys)
	if n == 0 || s.keys[n-1].Less(id) {
		s.keys = append(s.keys, id)
		return
	}
	idx := sort.Search(n, func(i int) bool { return !s.keys[i].Less(id) })
	s.keys = append(s.keys, snowflake.ID{})
	copy(s.keys[idx+1:], s.keys[idx:])
	s.keys[idx] = id
}

// Get 读取邮件
func (s *Store) Get(id snowflake.ID) (*domain.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	encoded, ok := s.values[id]
	if !ok {
		return nil, storage.ErrMailNotFound
	}
	return domain.DecodeMail(encoded)
}

// Remove 删除邮件
func (s *Store) Remove(id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	encoded, ok := s.values[id]
	if !ok {
		return storage.ErrMailNotFound
	}
	delete(s.values, id)
	s.bytes -= int64(len(encoded))

	idx := sort.Search(len(s.keys), func(i int) bool { return !s.keys[i].Less(id) })
	if idx < len(s.keys) && s.keys[idx] == id {
		s.keys = append(s.keys[:idx], s.keys[idx+1:]...)
	}
	return nil
}

// Clear 清空全部邮件
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	s.keys = nil
	s.values = make(map[snowflake.ID][]byte)
	s.bytes = 0
	return nil
}

// ScanReverse 从新到旧遍历
func (s *Store) ScanReverse(fn func(mail *domain.Mail) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	for i := len(s.keys) - 1; i >= 0; i-- {
		mail, err := domain.DecodeMail(s.values[s.keys[i]])
		if err != nil {
			return err
		}
		if !fn(mail) {
			return nil
		}
	}
	return nil
}

// Keys 返回键快照
func (s *Store) Keys() ([]snowflake.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	out := make([]snowflake.ID, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

// Len 邮件数量
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys), nil
}

// SizeOnDisk 内存存储返回编码后记录的总字节数
func (s *Store) SizeOnDisk() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Health 内存存储始终健康（关闭后除外）
func (s *Store) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}
