// Package pool 提供有界并发的任务池。
package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// WorkerPool 协程池
//
// 用于限制并发协程数量，任务返回的错误被计数，第一个错误会被保留
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func() error
	wg         sync.WaitGroup
	log        *zap.Logger

	done     atomic.Int64
	failed   atomic.Int64
	errOnce  sync.Once
	firstErr error
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func() error, queueSize),
		log:        log,
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位或 ctx 取消
func (p *WorkerPool) Submit(ctx context.Context, task func() error) error {
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func() error) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 停止协程池并等待队列中的任务完成，返回第一个任务错误
func (p *WorkerPool) Stop() error {
	close(p.taskQueue)
	p.wg.Wait()
	return p.firstErr
}

// Completed 成功完成的任务数
func (p *WorkerPool) Completed() int64 {
	return p.done.Load()
}

// Failed 失败的任务数
func (p *WorkerPool) Failed() int64 {
	return p.failed.Load()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			if err := p.run(task); err != nil {
				p.failed.Inc()
				p.errOnce.Do(func() { p.firstErr = err })
				continue
			}
			p.done.Inc()
		}
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task()
}
