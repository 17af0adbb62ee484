// Scheduler implementations for rxrt
// 调度器：决定动作在哪个执行上下文、何时运行
package rxrt

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler 调度器接口
type Scheduler interface {
	// Schedule 尽快执行action
	Schedule(action func()) Disposable
	// ScheduleWithDelay 延迟delay后执行action
	ScheduleWithDelay(action func(), delay time.Duration) Disposable
	// ScheduleWithContext ctx未取消时执行action
	ScheduleWithContext(ctx context.Context, action func()) Disposable
	// Now 调度器时钟的当前时间
	Now() time.Time
}

// runGuarded 执行调度的动作，panic被记录后吞掉，调度循环继续运行
func runGuarded(scheduler string, logger *zap.Logger, action func()) {
	defer func() {
		if r := recover(); r != nil {
			schedulerPanics.WithLabelValues(scheduler).Inc()
			logger.Error("scheduled action panicked",
				zap.String("scheduler", scheduler),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	action()
}

func contextAction(ctx context.Context, action func()) func() {
	return func() {
		if ctx.Err() == nil {
			action()
		}
	}
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 在调用者的goroutine中立即执行
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return immediateScheduler{}
}

// Schedule 立即执行任务
func (immediateScheduler) Schedule(action func()) Disposable {
	action()
	return emptyDisposable
}

// ScheduleWithDelay 在计时器goroutine中执行
func (immediateScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	timer := time.AfterFunc(delay, func() {
		runGuarded("immediate", Logger(), action)
	})
	return NewDisposable(func() { timer.Stop() })
}

// ScheduleWithContext 带上下文执行任务
func (s immediateScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	if ctx.Err() != nil {
		return emptyDisposable
	}
	return s.Schedule(action)
}

func (immediateScheduler) Now() time.Time { return time.Now() }

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// newThreadScheduler 为每个任务创建新的goroutine
type newThreadScheduler struct {
	logger *zap.Logger
}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler(opts ...Option) Scheduler {
	return &newThreadScheduler{logger: newConfig(opts).Logger}
}

// Schedule 在新goroutine中执行任务
func (s *newThreadScheduler) Schedule(action func()) Disposable {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		if ctx.Err() == nil {
			runGuarded("new_thread", s.logger, action)
		}
	}()
	return NewDisposable(cancel)
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *newThreadScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	timer := time.AfterFunc(delay, func() {
		runGuarded("new_thread", s.logger, action)
	})
	return NewDisposable(func() { timer.Stop() })
}

// ScheduleWithContext 带上下文在新goroutine中执行任务
func (s *newThreadScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(contextAction(ctx, action))
}

func (s *newThreadScheduler) Now() time.Time { return time.Now() }

// ============================================================================
// 线程池调度器 - Thread Pool Scheduler
// ============================================================================

// PoolScheduler 固定数量的goroutine消费同一个任务队列，任务之间不保证顺序
type PoolScheduler struct {
	logger    *zap.Logger
	taskQueue chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoolScheduler 创建线程池调度器，workers<=0时使用CPU数量
func NewPoolScheduler(workers int, opts ...Option) *PoolScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &PoolScheduler{
		logger:    newConfig(opts).Logger,
		taskQueue: make(chan func(), workers*2),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Schedule 把任务交给线程池；队列满时阻塞，已关闭时丢弃
func (s *PoolScheduler) Schedule(action func()) Disposable {
	task := NewDisposable(nil)
	select {
	case s.taskQueue <- func() {
		if !task.IsDisposed() {
			action()
		}
	}:
	case <-s.ctx.Done():
	}
	return task
}

// ScheduleWithDelay 延迟后交给线程池
func (s *PoolScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	var inner Disposable
	var mu sync.Mutex
	timer := time.AfterFunc(delay, func() {
		mu.Lock()
		defer mu.Unlock()
		inner = s.Schedule(action)
	})
	return NewDisposable(func() {
		timer.Stop()
		mu.Lock()
		defer mu.Unlock()
		if inner != nil {
			inner.Dispose()
		}
	})
}

// ScheduleWithContext 带上下文在线程池中执行任务
func (s *PoolScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(contextAction(ctx, action))
}

func (s *PoolScheduler) Now() time.Time { return time.Now() }

func (s *PoolScheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.taskQueue:
			runGuarded("pool", s.logger, task)
		}
	}
}

// Close 停止所有worker，未执行的任务被丢弃
func (s *PoolScheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// ============================================================================
// 虚拟时间调度器 - Virtual Scheduler
// ============================================================================

// VirtualScheduler 用于测试的调度器，时间只在AdvanceTimeBy/AdvanceTimeTo时前进。
// 同一时刻的动作按调度顺序执行。
type VirtualScheduler struct {
	mu       sync.Mutex
	epoch    time.Time
	clock    time.Duration
	nextID   uint64
	queue    []virtualAction
	disposed bool
}

type virtualAction struct {
	id     uint64
	at     time.Duration
	action func()
}

// NewVirtualScheduler 创建虚拟时间调度器，时钟从Unix纪元开始
func NewVirtualScheduler() *VirtualScheduler {
	return &VirtualScheduler{epoch: time.Unix(0, 0).UTC()}
}

// Schedule 在当前虚拟时刻调度任务，下一次推进时间时执行
func (s *VirtualScheduler) Schedule(action func()) Disposable {
	s.mu.Lock()
	at := s.clock
	s.mu.Unlock()
	return s.ScheduleAt(at, action)
}

// ScheduleWithDelay 延迟调度任务
func (s *VirtualScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	s.mu.Lock()
	at := s.clock + max(delay, 0)
	s.mu.Unlock()
	return s.ScheduleAt(at, action)
}

// ScheduleWithContext 带上下文调度任务
func (s *VirtualScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(contextAction(ctx, action))
}

// ScheduleAt 在虚拟时刻at调度任务
func (s *VirtualScheduler) ScheduleAt(at time.Duration, action func()) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return emptyDisposable
	}

	s.nextID++
	id := s.nextID
	i := len(s.queue)
	for j, existing := range s.queue {
		if at < existing.at {
			i = j
			break
		}
	}
	s.queue = append(s.queue, virtualAction{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = virtualAction{id: id, at: at, action: action}

	return NewDisposable(func() { s.remove(id) })
}

// Now 当前虚拟时间
func (s *VirtualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch.Add(s.clock)
}

// Clock 自纪元起经过的虚拟时间
func (s *VirtualScheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Pending 尚未执行的动作数量
func (s *VirtualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// AdvanceTimeBy 推进时间
func (s *VirtualScheduler) AdvanceTimeBy(d time.Duration) {
	s.mu.Lock()
	target := s.clock + d
	s.mu.Unlock()
	s.AdvanceTimeTo(target)
}

// AdvanceTimeTo 推进时间到指定时刻，依次执行到期的动作；
// 每个动作执行时时钟等于它的计划时刻
func (s *VirtualScheduler) AdvanceTimeTo(target time.Duration) {
	for {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 || s.queue[0].at > target {
			if target > s.clock {
				s.clock = target
			}
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue[0] = virtualAction{}
		s.queue = s.queue[1:]
		if next.at > s.clock {
			s.clock = next.at
		}
		s.mu.Unlock()

		next.action()
	}
}

func (s *VirtualScheduler) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, action := range s.queue {
		if action.id == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Dispose 丢弃所有未执行的动作，之后的调度被忽略
func (s *VirtualScheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disposed = true
	s.queue = nil
}

// ============================================================================
// 默认调度器
// ============================================================================

var (
	singletonMu      sync.Mutex
	messageThread    *RunLoop
	backgroundThread *EventLoop

	immediateInstance = NewImmediateScheduler()
	newThreadOnce     sync.Once
	newThreadInstance Scheduler
)

// MessageThread 进程级的消息线程，由宿主调用Run或RunPending驱动
func MessageThread() *RunLoop {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if messageThread == nil {
		messageThread = NewRunLoop(WithName("message"))
	}
	return messageThread
}

// BackgroundThread 进程级的后台事件循环
func BackgroundThread() *EventLoop {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if backgroundThread == nil {
		backgroundThread = NewEventLoop(WithName("background"))
	}
	return backgroundThread
}

// NewThread 每个动作一个goroutine的调度器
func NewThread() Scheduler {
	newThreadOnce.Do(func() {
		newThreadInstance = NewNewThreadScheduler()
	})
	return newThreadInstance
}

// Immediate 在调用者goroutine中执行的调度器
func Immediate() Scheduler {
	return immediateInstance
}

// Shutdown 关闭进程级调度器和默认释放池，之后再访问会重新创建
func Shutdown() {
	singletonMu.Lock()
	mt, bt := messageThread, backgroundThread
	messageThread, backgroundThread = nil, nil
	singletonMu.Unlock()

	if bt != nil {
		bt.Close()
	}
	if mt != nil {
		mt.Close()
	}
	closeDefaultReleasePool()
	Logger().Debug("schedulers shut down")
}

// ============================================================================
// 调度器辅助函数
// ============================================================================

// ScheduleRecurring 每隔period执行一次action，直到返回的Disposable被释放。
// 第k次执行计划在 start + k*period，按调度器时钟计算延迟，执行耗时不累积；
// 落后时立即补上。下一次执行在本次执行结束后才登记，同一个任务不会并发执行。
func ScheduleRecurring(scheduler Scheduler, action func(), period time.Duration) Disposable {
	var (
		mu      sync.Mutex
		current Disposable
		stopped bool
		ticks   int64
		tick    func()
	)
	start := scheduler.Now()
	delayUntilNext := func() time.Duration {
		ticks++
		next := start.Add(time.Duration(ticks) * period)
		return max(next.Sub(scheduler.Now()), 0)
	}

	tick = func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()

		action()

		mu.Lock()
		if !stopped {
			current = scheduler.ScheduleWithDelay(tick, delayUntilNext())
		}
		mu.Unlock()
	}

	mu.Lock()
	current = scheduler.ScheduleWithDelay(tick, delayUntilNext())
	mu.Unlock()

	return NewDisposable(func() {
		mu.Lock()
		stopped = true
		c := current
		mu.Unlock()
		c.Dispose()
	})
}

// ScheduleOnce 一次性调度任务
func ScheduleOnce(scheduler Scheduler, action func(), delay time.Duration) Disposable {
	return scheduler.ScheduleWithDelay(action, delay)
}
