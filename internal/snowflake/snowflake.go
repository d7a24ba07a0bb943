// Package snowflake 生成按时间排序的 128 位邮件 ID。
//
// ID 布局: (毫秒时间戳 - Epoch) << SequenceBits | 序号。
// 同一进程内生成的 ID 单调递增，ID 同时充当存储键和邮件时间戳。
package snowflake

import (
	"sync"
	"time"
)

const (
	// Epoch 2024-01-01T00:00:00Z 的毫秒时间戳
	Epoch uint64 = 1704067200000
	// SequenceBits 序号位数，每毫秒最多 4096 个 ID
	SequenceBits = 12
	// SequenceMask 序号掩码
	SequenceMask uint64 = 1<<SequenceBits - 1

	overflowPoll = 100 * time.Microsecond
)

// Generator ID 生成器，进程内构造一次后注入到需要创建邮件的组件
type Generator struct {
	mu       sync.Mutex
	lastMs   uint64
	sequence uint64
	now      func() time.Time
	sleep    func(time.Duration)
}

// Option 生成器选项
type Option func(*Generator)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithSleep 替换序号溢出时的等待函数（测试用）
func WithSleep(sleep func(time.Duration)) Option {
	return func(g *Generator) {
		g.sleep = sleep
	}
}

// NewGenerator 创建 ID 生成器
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next 返回下一个 ID
//
// 同一毫秒内序号耗尽时阻塞调用方，直到时钟进入下一毫秒。
// 时钟回拨按"同一毫秒"处理，保证 ID 不回退。
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.currentMillis()
	if ms > g.lastMs {
		g.lastMs = ms
		g.sequence = 0
	} else {
		g.sequence++
		if g.sequence > SequenceMask {
			for ms <= g.lastMs {
				g.sleep(overflowPoll)
				ms = g.currentMillis()
			}
			g.lastMs = ms
			g.sequence = 0
		}
	}

	return compose(g.lastMs, g.sequence)
}

func (g *Generator) currentMillis() uint64 {
	ms := g.now().UnixMilli()
	if ms < int64(Epoch) {
		return Epoch
	}
	return uint64(ms)
}

func compose(ms, seq uint64) ID {
	delta := ms - Epoch
	return ID{
		hi: delta >> (64 - SequenceBits),
		lo: delta<<SequenceBits | seq&SequenceMask,
	}
}

// ToTimestamp 由 ID 还原生成时的毫秒时间戳
func ToTimestamp(id ID) uint64 {
	delta := id.hi<<(64-SequenceBits) | id.lo>>SequenceBits
	return delta + Epoch
}
