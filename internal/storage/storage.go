package storage

import (
	"errors"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
)

var (
	// ErrMailNotFound 邮件不存在
	ErrMailNotFound = errors.New("mail not found")
	// ErrStoreClosed 存储已关闭
	ErrStoreClosed = errors.New("store closed")
)

// 支持的存储类型
const (
	TypeMemory     = "memory"
	TypeFilesystem = "filesystem"
	TypeRedis      = "redis"
	TypePostgres   = "postgres"
	TypePgx        = "pgx"
	TypeMySQL      = "mysql"
)

// Types 返回全部支持的存储类型
func Types() []string {
	return []string{TypeMemory, TypeFilesystem, TypeRedis, TypePostgres, TypePgx, TypeMySQL}
}

// MailStore 按 ID 有序的邮件存储。
//
// 键为 ID 的定长大端编码，字节序即创建顺序。实现必须在每个逻辑操作期间
// 持有同一把互斥锁；ScanReverse 的回调在锁内执行，回调中不得再次访问存储。
type MailStore interface {
	Insert(mail *domain.Mail) error                    // 按 ID 覆盖写入
	Get(id snowflake.ID) (*domain.Mail, error)         // 不存在返回 ErrMailNotFound
	Remove(id snowflake.ID) error                      // 不存在返回 ErrMailNotFound
	Clear() error                                      // 删除全部邮件
	ScanReverse(fn func(mail *domain.Mail) bool) error // 从新到旧遍历，fn 返回 false 时停止
	Keys() ([]snowflake.ID, error)                     // 升序的键快照
	Len() (int, error)
	SizeOnDisk() (int64, error)

	Close() error
	Health() error
}
