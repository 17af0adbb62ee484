// Run loops for rxrt
// 消息循环：RunLoop由宿主驱动，EventLoop由自己的goroutine驱动
package rxrt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// RunLoop
// ============================================================================

// RunLoop 协作式消息线程：动作先进入FIFO队列，只有在所有者调用
// Run或RunPending时才在所有者的goroutine中执行
type RunLoop struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	queue  []*loopTask
	closed bool
	wake   chan struct{}
}

type loopTask struct {
	action    func()
	cancelled atomic.Bool
}

func (t *loopTask) Dispose()         { t.cancelled.Store(true) }
func (t *loopTask) IsDisposed() bool { return t.cancelled.Load() }

// NewRunLoop 创建RunLoop，可用WithName、WithLogger、WithBufferSize配置
func NewRunLoop(opts ...Option) *RunLoop {
	config := newConfig(opts)
	name := config.Name
	if name == "" {
		name = "runloop"
	}
	return &RunLoop{
		name:   name,
		logger: config.Logger.With(zap.String("scheduler", name)),
		queue:  make([]*loopTask, 0, max(config.BufferSize, 1)),
		wake:   make(chan struct{}, 1),
	}
}

func (l *RunLoop) enqueue(t *loopTask) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		t.Dispose()
		return
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Schedule 把动作放入队列
func (l *RunLoop) Schedule(action func()) Disposable {
	t := &loopTask{action: action}
	l.enqueue(t)
	return t
}

// ScheduleWithDelay 计时器到期后把动作放入队列
func (l *RunLoop) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := &loopTask{action: action}
	timer := time.AfterFunc(delay, func() { l.enqueue(t) })
	return NewDisposable(func() {
		timer.Stop()
		t.Dispose()
	})
}

// ScheduleWithContext ctx未取消时放入队列
func (l *RunLoop) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	if ctx.Err() != nil {
		return emptyDisposable
	}
	return l.Schedule(contextAction(ctx, action))
}

func (l *RunLoop) Now() time.Time { return time.Now() }

// Pending 队列中等待执行的动作数量
func (l *RunLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RunPending 执行当前已入队的动作并返回执行数量；
// 执行期间新入队的动作留给下一次调用
func (l *RunLoop) RunPending() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = make([]*loopTask, 0, cap(batch))
	l.mu.Unlock()

	ran := 0
	for _, t := range batch {
		if t.IsDisposed() {
			continue
		}
		runGuarded(l.name, l.logger, t.action)
		ran++
	}
	return ran
}

// Run 在调用者的goroutine中持续执行动作，直到ctx取消或RunLoop关闭
func (l *RunLoop) Run(ctx context.Context) error {
	l.logger.Debug("run loop started")
	defer l.logger.Debug("run loop stopped")

	for {
		l.RunPending()

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close 丢弃未执行的动作，之后的调度被忽略
func (l *RunLoop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dropped := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, t := range dropped {
		t.Dispose()
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// ============================================================================
// EventLoop
// ============================================================================

// EventLoop 由专属goroutine驱动的RunLoop，动作串行且按入队顺序执行
type EventLoop struct {
	loop   *RunLoop
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventLoop 创建并启动事件循环
func NewEventLoop(opts ...Option) *EventLoop {
	ctx, cancel := context.WithCancel(context.Background())
	e := &EventLoop{
		loop:   NewRunLoop(opts...),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		_ = e.loop.Run(ctx)
	}()
	return e
}

// Schedule 把动作放入队列
func (e *EventLoop) Schedule(action func()) Disposable {
	return e.loop.Schedule(action)
}

// ScheduleWithDelay 延迟后放入队列
func (e *EventLoop) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return e.loop.ScheduleWithDelay(action, delay)
}

// ScheduleWithContext ctx未取消时放入队列
func (e *EventLoop) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return e.loop.ScheduleWithContext(ctx, action)
}

func (e *EventLoop) Now() time.Time { return time.Now() }

// Close 停止goroutine并等待正在执行的动作结束
func (e *EventLoop) Close() {
	e.cancel()
	<-e.done
	e.loop.Close()
}
