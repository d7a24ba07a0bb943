package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

const (
	tableName = "mails"
	scanBatch = 100
)

// mailRow 邮件表，一行一封编码后的邮件
type mailRow struct {
	ID        string `gorm:"primaryKey;size:32"`
	Payload   []byte `gorm:"not null"`
	CreatedAt time.Time
}

// TableName 表名
func (mailRow) TableName() string {
	return tableName
}

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	mu         sync.Mutex
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "postgres", "pgx" or "mysql"
}

var _ storage.MailStore = (*Store)(nil)

// NewStore 创建SQL数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	switch driverName {
	case storage.TypePostgres, storage.TypePgx, storage.TypeMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, pgx, mysql)", driverName)
	}
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var dialector gorm.Dialector
	if driverName == storage.TypeMySQL {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := gormDB.AutoMigrate(&mailRow{}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Insert 写入邮件，主键冲突时覆盖
func (s *Store) Insert(mail *domain.Mail) error {
	encoded, err := domain.EncodeMail(mail)
	if err != nil {
		return err
	}

	row := mailRow{
		ID:        mail.ID.Hex(),
		Payload:   encoded,
		CreatedAt: time.UnixMilli(int64(mail.Timestamp())).UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to insert mail: %w", err)
	}
	return nil
}

// Get 读取邮件
func (s *Store) Get(id snowflake.ID) (*domain.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row mailRow
	err := s.gormDB.Where("id = ?", id.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrMailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail: %w", err)
	}
	return domain.DecodeMail(row.Payload)
}

// Remove 删除邮件
func (s *Store) Remove(id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.gormDB.Where("id = ?", id.Hex()).Delete(&mailRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove mail: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrMailNotFound
	}
	return nil
}

// Clear 删除全部邮件
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&mailRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear mails: %w", err)
	}
	return nil
}

// ScanReverse 按主键倒序分批读取
func (s *Store) ScanReverse(fn func(mail *domain.Mail) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := ""
	for {
		query := s.gormDB.Order("id DESC").Limit(scanBatch)
		if last != "" {
			query = query.Where("id < ?", last)
		}

		var rows []mailRow
		if err := query.Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to scan mails: %w", err)
		}

		for _, row := range rows {
			mail, err := domain.DecodeMail(row.Payload)
			if err != nil {
				return err
			}
			if !fn(mail) {
				return nil
			}
		}

		if len(rows) < scanBatch {
			return nil
		}
		last = rows[len(rows)-1].ID
	}
}

// Keys 返回升序键快照
func (s *Store) Keys() ([]snowflake.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hexIDs []string
	if err := s.gormDB.Model(&mailRow{}).Order("id ASC").Pluck("id", &hexIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	ids := make([]snowflake.ID, 0, len(hexIDs))
	for _, h := range hexIDs {
		id, err := snowflake.ParseHex(h)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Len 邮件数量
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.gormDB.Model(&mailRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count mails: %w", err)
	}
	return int(n), nil
}

// SizeOnDisk 返回邮件表（含索引）占用的字节数
func (s *Store) SizeOnDisk() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	var err error
	if s.driverName == storage.TypeMySQL {
		err = s.gormDB.Raw(
			"SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
			tableName,
		).Scan(&size).Error
	} else {
		err = s.gormDB.Raw("SELECT pg_total_relation_size('" + tableName + "')").Scan(&size).Error
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read table size: %w", err)
	}
	return size, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}
