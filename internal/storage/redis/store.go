package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailsink/backend/internal/config"
	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

const (
	scanBatch  = 100
	opTimeout  = 5 * time.Second
	defaultPfx = "mailsink"
)

// Store Redis 存储实现
//
// 键空间：
//
//	{prefix}:index  ZSET，全部成员分数为 0，成员为 32 位十六进制 ID，按字典序即 ID 序
//	{prefix}:mails  HASH，字段为十六进制 ID，值为编码后的邮件
type Store struct {
	mu       sync.Mutex
	rdb      *goredis.Client
	indexKey string
	mailsKey string
	log      *zap.Logger
	closed   bool
}

var _ storage.MailStore = (*Store)(nil)

// NewStore 连接 Redis 并创建存储
func NewStore(cfg *config.RedisConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rdb, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return NewStoreWithClient(rdb, cfg.Prefix, log), nil
}

// NewStoreWithClient 使用已有客户端创建存储，Close 时会关闭该客户端
func NewStoreWithClient(rdb *goredis.Client, prefix string, log *zap.Logger) *Store {
	if prefix == "" {
		prefix = defaultPfx
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		rdb:      rdb,
		indexKey: prefix + ":index",
		mailsKey: prefix + ":mails",
		log:      log,
	}
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// Insert 写入邮件，索引与数据在同一事务内更新
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

	ctx, cancel := s.ctx()
	defer cancel()

	key := mail.ID.Hex()
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, s.indexKey, goredis.Z{Score: 0, Member: key})
		pipe.HSet(ctx, s.mailsKey, key, encoded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert mail: %w", err)
	}
	return nil
}

// Get 读取邮件
func (s *Store) Get(id snowflake.ID) (*domain.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.rdb.HGet(ctx, s.mailsKey, id.Hex()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrMailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail: %w", err)
	}
	return domain.DecodeMail(raw)
}

// Remove 删除邮件
func (s *Store) Remove(id snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	key := id.Hex()
	var removed *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, s.indexKey, key)
		removed = pipe.HDel(ctx, s.mailsKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove mail: %w", err)
	}
	if removed.Val() == 0 {
		return storage.ErrMailNotFound
	}
	return nil
}

// Clear 删除索引与数据两个键
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.rdb.Del(ctx, s.indexKey, s.mailsKey).Err(); err != nil {
		return fmt.Errorf("failed to clear mails: %w", err)
	}
	return nil
}

// ScanReverse 按字典序倒序分批读取索引，再用 HMGET 取值
func (s *Store) ScanReverse(fn func(mail *domain.Mail) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}

	max := "+"
	for {
		ctx, cancel := s.ctx()
		keys, err := s.rdb.ZRevRangeByLex(ctx, s.indexKey, &goredis.ZRangeBy{
			Max:   max,
			Min:   "-",
			Count: scanBatch,
		}).Result()
		if err != nil {
			cancel()
			return fmt.Errorf("failed to scan index: %w", err)
		}
		if len(keys) == 0 {
			cancel()
			return nil
		}

		values, err := s.rdb.HMGet(ctx, s.mailsKey, keys...).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to load mails: %w", err)
		}

		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				// 索引存在但数据缺失，跳过
				continue
			}
			mail, err := domain.DecodeMail([]byte(raw))
			if err != nil {
				return err
			}
			if !fn(mail) {
				return nil
			}
		}

		if len(keys) < scanBatch {
			return nil
		}
		max = "(" + keys[len(keys)-1]
	}
}

// Keys 返回升序键快照
func (s *Store) Keys() ([]snowflake.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	members, err := s.rdb.ZRange(ctx, s.indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	ids := make([]snowflake.ID, 0, len(members))
	for _, m := range members {
		id, err := snowflake.ParseHex(m)
		if err != nil {
			s.log.Warn("skipping malformed index member", zap.String("member", m))
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
	if s.closed {
		return 0, storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	n, err := s.rdb.ZCard(ctx, s.indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count mails: %w", err)
	}
	return int(n), nil
}

// SizeOnDisk 返回两个键占用的内存字节数
func (s *Store) SizeOnDisk() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	var total int64
	for _, key := range []string{s.indexKey, s.mailsKey} {
		n, err := s.rdb.MemoryUsage(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read memory usage: %w", err)
		}
		total += n
	}
	return total, nil
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.rdb.Close(); err != nil {
		s.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	s.log.Info("Redis connection closed")
	return nil
}

// Health 测试 Redis 连接
func (s *Store) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
