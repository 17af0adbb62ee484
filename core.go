// Package rxrt provides reactive-streams primitives for Go: a type-erased
// Value container, Observable/Observer/Subject, schedulers, and lock-free
// bridges for crossing a realtime/non-realtime boundary.
// 基于Value容器的响应式运行时，类型化API在边界处与Value互相转换
package rxrt

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// 通知
// ============================================================================

type itemKind uint8

const (
	itemNext itemKind = iota
	itemError
	itemComplete
)

// item 流中的一个通知：值、错误或完成
type item struct {
	kind  itemKind
	value Value
	err   error
}

func nextItem(v Value) item      { return item{kind: itemNext, value: v} }
func errorItem(err error) item   { return item{kind: itemError, err: err} }
func completeItem() item         { return item{kind: itemComplete} }
func (it item) isTerminal() bool { return it.kind != itemNext }

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，重复调用无副作用
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed atomic.Bool
	action   func()
}

// NewDisposable 创建在首次Dispose时执行action的资源
func NewDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if d.disposed.CompareAndSwap(false, true) && d.action != nil {
		d.action()
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return d.disposed.Load()
}

var emptyDisposable = NewDisposable(nil)

// DisposeBag 批量持有订阅，Dispose时逐个释放。
// 加入后由bag独占；bag释放后再加入的资源会被立即释放。
type DisposeBag struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewDisposeBag 创建DisposeBag
func NewDisposeBag() *DisposeBag {
	return &DisposeBag{}
}

// Add 添加可释放资源
func (b *DisposeBag) Add(disposables ...Disposable) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		for _, d := range disposables {
			d.Dispose()
		}
		return
	}
	b.resources = append(b.resources, disposables...)
	b.mu.Unlock()
}

// AddFunc 添加释放函数
func (b *DisposeBag) AddFunc(action func()) {
	b.Add(NewDisposable(action))
}

// Dispose 释放所有资源，幂等
func (b *DisposeBag) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	resources := b.resources
	b.resources = nil
	b.mu.Unlock()

	for _, resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (b *DisposeBag) IsDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// Len 当前持有的资源数量
func (b *DisposeBag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resources)
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 配置结构
type Config struct {
	// Scheduler 时间类操作符和LockFreeSource的调度器
	Scheduler Scheduler
	// Logger 组件日志器，默认为包级日志器
	Logger *zap.Logger
	// Name 用于日志字段和指标标签
	Name string
	// BufferSize RunLoop初始队列容量
	BufferSize int
	// ReleasePool LockFreeTarget使用的释放池
	ReleasePool *ReleasePool
	// CleanupInterval 释放池清理周期
	CleanupInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferSize:      16,
		CleanupInterval: time.Second,
	}
}

func newConfig(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	if config.Logger == nil {
		config.Logger = Logger()
	}
	return config
}

type optionFunc func(config *Config)

func (f optionFunc) Apply(config *Config) { f(config) }

// WithScheduler 指定调度器
func WithScheduler(scheduler Scheduler) Option {
	return &schedulerOption{scheduler: scheduler}
}

// schedulerOption 调度器选项
type schedulerOption struct {
	scheduler Scheduler
}

// Apply 应用调度器选项
func (o *schedulerOption) Apply(config *Config) {
	config.Scheduler = o.scheduler
}

// WithLogger 指定日志器
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(c *Config) { c.Logger = logger })
}

// WithName 指定名称
func WithName(name string) Option {
	return optionFunc(func(c *Config) { c.Name = name })
}

// WithBufferSize 指定初始缓冲容量
func WithBufferSize(size int) Option {
	return optionFunc(func(c *Config) { c.BufferSize = size })
}

// WithReleasePool 指定释放池
func WithReleasePool(pool *ReleasePool) Option {
	return optionFunc(func(c *Config) { c.ReleasePool = pool })
}

// WithCleanupInterval 指定释放池清理周期，<=0 表示只手动清理
func WithCleanupInterval(interval time.Duration) Option {
	return optionFunc(func(c *Config) { c.CleanupInterval = interval })
}
