// Package cleaner 定期删除超过保存期限的邮件。
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

// DefaultInterval 默认清理间隔
const DefaultInterval = time.Minute

// Store 清理所需的存储操作
type Store interface {
	Keys() ([]snowflake.ID, error)
	Remove(id snowflake.ID) error
	Len() (int, error)
}

// Cleaner TTL 清理任务
type Cleaner struct {
	store    Store
	lifetime time.Duration
	interval time.Duration
	now      func() time.Time
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// Option 清理任务选项
type Option func(*Cleaner)

// WithInterval 设置清理间隔
func WithInterval(d time.Duration) Option {
	return func(c *Cleaner) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// WithMetrics 记录清理指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Cleaner) { c.metrics = m }
}

// New 创建清理任务，lifetime 为邮件保存期限
func New(store Store, lifetime time.Duration, log *zap.Logger, opts ...Option) *Cleaner {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cleaner{
		store:    store,
		lifetime: lifetime,
		interval: DefaultInterval,
		now:      time.Now,
		log:      log.Named("cleaner"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sweep 执行一次清理，返回删除数量
func (c *Cleaner) Sweep() (int, error) {
	start := time.Now()
	defer func() { c.metrics.RecordSweep(time.Since(start)) }()

	ids, err := c.store.Keys()
	if err != nil {
		return 0, fmt.Errorf("failed to list mails: %w", err)
	}

	nowMs := uint64(c.now().UnixMilli())
	lifetimeMs := uint64(c.lifetime.Milliseconds())

	removed := 0
	for _, id := range ids {
		ts := id.Timestamp()
		if ts >= nowMs || nowMs-ts <= lifetimeMs {
			// 键按时间升序，后面的更新
			break
		}
		err := c.store.Remove(id)
		if errors.Is(err, storage.ErrMailNotFound) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to remove mail %s: %w", id, err)
		}
		removed++
	}

	c.metrics.RecordMailsDeleted(monitoring.DeleteSourceCleaner, removed)
	if n, err := c.store.Len(); err == nil {
		c.metrics.UpdateMailsStored(n)
	}
	return removed, nil
}

// Run 立即清理一次，之后按间隔重复，直到 ctx 取消
func (c *Cleaner) Run(ctx context.Context) error {
	c.log.Info("cleaner started",
		zap.Duration("lifetime", c.lifetime),
		zap.Duration("interval", c.interval),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		removed, err := c.Sweep()
		switch {
		case err != nil:
			c.metrics.RecordError("sweep", "cleaner")
			c.log.Error("sweep failed", zap.Error(err))
		case removed > 0:
			c.log.Info("expired mails removed", zap.Int("count", removed))
		}

		select {
		case <-ctx.Done():
			c.log.Info("cleaner stopped")
			return nil
		case <-ticker.C:
		}
	}
}
