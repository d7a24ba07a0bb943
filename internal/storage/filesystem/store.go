package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

const (
	mailsDir = "mails"
	mailExt  = ".mail"
	tmpExt   = ".tmp"
)

// Store 文件系统存储实现
//
// 每封邮件一个文件: {basePath}/mails/{32 位十六进制 ID}.mail，
// 文件名的字典序即 ID 的数值序，目录列表天然有序。
type Store struct {
	mu            sync.Mutex
	basePath      string         // 存储根目录
	mailsPath     string         // 邮件文件目录
	platformUtils *PlatformUtils // 平台兼容性工具
}

var _ storage.MailStore = (*Store)(nil)

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)
	mailsPath := filepath.Join(normalizedPath, mailsDir)

	if err := os.MkdirAll(mailsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mail directory: %w", err)
	}

	s := &Store{
		basePath:      normalizedPath,
		mailsPath:     mailsPath,
		platformUtils: platformUtils,
	}

	// 清理上次异常退出留下的临时文件
	if err := s.removeTempFiles(); err != nil {
		return nil, err
	}

	return s, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Insert 写入邮件（先写临时文件再重命名，保证读者看不到半截记录）
func (s *Store) Insert(mail *domain.Mail) error {
	encoded, err := domain.EncodeMail(mail)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.mailPath(mail.ID)
	tmp := path + tmpExt
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write mail file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit mail file: %w", err)
	}
	return nil
}

// Get 读取邮件
func (s *Store) Get(id snowflake.ID) (*domain.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(s.mailPath(id))
}

// Remove 删除邮件
func (s *Store) Remove(id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.mailPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return storage.ErrMailNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to remove mail file: %w", err)
	}
	return nil
}

// Clear 删除全部邮件文件
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.list()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := os.Remove(s.mailPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove mail file: %w", err)
		}
	}
	return nil
}

// ScanReverse 从新到旧遍历
func (s *Store) ScanReverse(fn func(mail *domain.Mail) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.list()
	if err != nil {
		return err
	}

	for i := len(ids) - 1; i >= 0; i-- {
		mail, err := s.read(s.mailPath(ids[i]))
		if errors.Is(err, storage.ErrMailNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(mail) {
			return nil
		}
	}
	return nil
}

// Keys 返回升序键快照
func (s *Store) Keys() ([]snowflake.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Len 邮件数量
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.list()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SizeOnDisk 统计存储目录下全部文件大小
func (s *Store) SizeOnDisk() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalSize int64
	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk storage directory: %w", err)
	}
	return totalSize, nil
}

// Close 文件系统存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 检查邮件目录是否可访问
func (s *Store) Health() error {
	info, err := os.Stat(s.mailsPath)
	if err != nil {
		return fmt.Errorf("mail directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mail path is not a directory: %s", s.mailsPath)
	}
	return nil
}

// ========== 辅助方法 ==========

func (s *Store) mailPath(id snowflake.ID) string {
	return filepath.Join(s.mailsPath, id.Hex()+mailExt)
}

func (s *Store) read(path string) (*domain.Mail, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrMailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mail file: %w", err)
	}
	return domain.DecodeMail(content)
}

// list 列出目录中的邮件 ID，os.ReadDir 已按文件名排序
func (s *Store) list() ([]snowflake.ID, error) {
	entries, err := os.ReadDir(s.mailsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mail directory: %w", err)
	}

	ids := make([]snowflake.ID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, mailExt) {
			continue
		}
		id, err := snowflake.ParseHex(strings.TrimSuffix(name, mailExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) removeTempFiles() error {
	entries, err := os.ReadDir(s.mailsPath)
	if err != nil {
		return fmt.Errorf("failed to read mail directory: %w", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), tmpExt) {
			os.Remove(filepath.Join(s.mailsPath, entry.Name()))
		}
	}
	return nil
}
