// Release pool for rxrt
// 释放池：被替换的值在没有读者之后才释放，释放发生在池自己的goroutine中
package rxrt

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Releaser 释放池回收值时调用Release
type Releaser interface {
	Release()
}

// readerCounter 带读者计数的包装，计数非零时不回收
type readerCounter interface {
	activeReaders() int32
}

// payloadHolder 包装中实际的值
type payloadHolder interface {
	payload() any
}

type poolEntry struct {
	item   any
	marked bool
}

// ReleasePool 回收被替换的值。一个条目至少经过两次清理才会被释放：
// 第一次只做标记，第二次在没有读者时释放。
type ReleasePool struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries []poolEntry
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewReleasePool 创建释放池，默认每秒清理一次；WithCleanupInterval(0)表示只手动清理
func NewReleasePool(opts ...Option) *ReleasePool {
	config := newConfig(opts)
	p := &ReleasePool{
		logger: config.Logger.Named("release_pool"),
	}
	if config.CleanupInterval > 0 {
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.run(config.CleanupInterval)
	}
	return p
}

func (p *ReleasePool) run(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Cleanup()
		}
	}
}

// Add 交给池回收；池关闭后立即释放
func (p *ReleasePool) Add(item any) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.release(item)
		return
	}
	p.entries = append(p.entries, poolEntry{item: item})
	p.mu.Unlock()
	releasePoolPending.Inc()
}

// Len 等待回收的条目数量
func (p *ReleasePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Cleanup 执行一次清理，返回释放的数量
func (p *ReleasePool) Cleanup() int {
	p.mu.Lock()
	var ready []any
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.marked && readersOf(e.item) == 0 {
			ready = append(ready, e.item)
			continue
		}
		e.marked = true
		kept = append(kept, e)
	}
	clear(p.entries[len(kept):])
	p.entries = kept
	pending := len(kept)
	p.mu.Unlock()

	releasePoolPending.Sub(float64(len(ready)))
	for _, item := range ready {
		p.release(item)
	}
	if len(ready) > 0 {
		p.logger.Debug("release pool sweep",
			zap.Int("released", len(ready)),
			zap.Int("pending", pending))
	}
	return len(ready)
}

func readersOf(item any) int32 {
	if rc, ok := item.(readerCounter); ok {
		return rc.activeReaders()
	}
	return 0
}

func (p *ReleasePool) release(item any) {
	releasePoolReleased.Inc()
	if h, ok := item.(payloadHolder); ok {
		item = h.payload()
	}
	r, ok := item.(Releaser)
	if !ok {
		return
	}
	if err := safeInvoke("release", func() error {
		r.Release()
		return nil
	}); err != nil {
		p.logger.Error("release failed", zap.Error(err))
	}
}

// Close 停止定时清理并释放所有没有读者的条目，之后加入的值立即释放
func (p *ReleasePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.stop != nil {
		close(p.stop)
		<-p.done
	}

	p.mu.Lock()
	for i := range p.entries {
		p.entries[i].marked = true
	}
	p.mu.Unlock()
	p.Cleanup()
}

var (
	defaultPoolMu sync.Mutex
	defaultPool   *ReleasePool
)

// DefaultReleasePool 进程级释放池，由Shutdown关闭
func DefaultReleasePool() *ReleasePool {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	if defaultPool == nil {
		defaultPool = NewReleasePool()
	}
	return defaultPool
}

func closeDefaultReleasePool() {
	defaultPoolMu.Lock()
	p := defaultPool
	defaultPool = nil
	defaultPoolMu.Unlock()
	if p != nil {
		p.Close()
	}
}
