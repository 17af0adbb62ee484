// Lock-free source for rxrt
// 无锁源：实时线程入队，消费者调度器上排空并发布给订阅者
package rxrt

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// CongestionPolicy 环形队列已满时的处理方式
type CongestionPolicy uint8

const (
	// Allocate 溢出到有锁的后备列表，不丢值但可能分配内存
	Allocate CongestionPolicy = iota
	// DropNewest 丢弃新值
	DropNewest
	// DropOldest 丢弃队列中最旧的值，为新值腾出位置
	DropOldest
)

func (p CongestionPolicy) String() string {
	switch p {
	case Allocate:
		return "allocate"
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	}
	return "unknown"
}

// SourceStats LockFreeSource的累计计数
type SourceStats struct {
	Enqueued      int64
	Overflowed    int64
	DroppedNewest int64
	DroppedOldest int64
}

// LockFreeSource 实时线程和消费者之间的桥。OnNext不加锁、不分配内存
// （Allocate溢出除外），任意线程都可以调用；值在消费者调度器上按入队顺序发布。
type LockFreeSource[T any] struct {
	Observable[T]

	name      string
	logger    *zap.Logger
	scheduler Scheduler
	subject   *PublishSubject[T]
	counters  sourceCounters

	ring        *boundedQueue[T]
	overflowMu  sync.Mutex
	overflow    []T
	overflowLen atomic.Int64

	wake     chan struct{}
	stop     chan struct{}
	pumpDone chan struct{}
	pending  atomic.Bool
	closed   atomic.Bool
	drainMu  sync.Mutex

	enqueued      atomic.Int64
	overflowed    atomic.Int64
	droppedNewest atomic.Int64
	droppedOldest atomic.Int64
}

// NewLockFreeSource 创建容量至少为capacity（向上取2的幂）的无锁源。
// 默认在MessageThread上发布，宿主需要驱动它；可用WithScheduler替换。
func NewLockFreeSource[T any](capacity int, opts ...Option) *LockFreeSource[T] {
	config := newConfig(opts)
	name := config.Name
	if name == "" {
		name = "lockfree_source"
	}
	scheduler := config.Scheduler
	if scheduler == nil {
		scheduler = MessageThread()
	}

	subject := NewPublishSubject[T]()
	s := &LockFreeSource[T]{
		Observable: subject.Observable,
		name:       name,
		logger:     config.Logger.With(zap.String("source", name)),
		scheduler:  scheduler,
		subject:    subject,
		counters:   newSourceCounters(name),
		ring:       newBoundedQueue[T](capacity),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// Capacity 环形队列的实际容量
func (s *LockFreeSource[T]) Capacity() int {
	return s.ring.Cap()
}

// OnNext 按policy入队一个值，关闭后的调用被忽略
func (s *LockFreeSource[T]) OnNext(value T, policy CongestionPolicy) {
	if s.closed.Load() {
		return
	}
	// 溢出列表非空时新值必须排在它后面
	if s.overflowLen.Load() == 0 && s.ring.TryEnqueue(value) {
		s.recordEnqueued()
		s.signal()
		return
	}

	switch policy {
	case DropNewest:
		s.droppedNewest.Add(1)
		s.counters.droppedNewest.Inc()
		return
	case DropOldest:
		s.replaceOldest(value)
	default:
		s.appendOverflow(value)
	}
	s.signal()
}

func (s *LockFreeSource[T]) recordEnqueued() {
	s.enqueued.Add(1)
	s.counters.enqueued.Inc()
}

func (s *LockFreeSource[T]) recordDroppedOldest() {
	s.droppedOldest.Add(1)
	s.counters.droppedOldest.Inc()
}

func (s *LockFreeSource[T]) appendOverflow(value T) {
	s.overflowMu.Lock()
	s.overflow = append(s.overflow, value)
	s.overflowLen.Add(1)
	s.overflowMu.Unlock()
	s.overflowed.Add(1)
	s.counters.overflowed.Inc()
}

// replaceOldest 丢弃最旧的值直到新值能放入
func (s *LockFreeSource[T]) replaceOldest(value T) {
	for {
		if s.overflowLen.Load() > 0 {
			s.overflowMu.Lock()
			if _, ok := s.ring.TryDequeue(); ok {
				s.recordDroppedOldest()
			} else if len(s.overflow) > 0 {
				var zero T
				s.overflow[0] = zero
				s.overflow = s.overflow[1:]
				s.overflowLen.Add(-1)
				s.recordDroppedOldest()
			}
			s.overflow = append(s.overflow, value)
			s.overflowLen.Add(1)
			s.overflowMu.Unlock()
			s.overflowed.Add(1)
			s.counters.overflowed.Inc()
			return
		}
		if _, ok := s.ring.TryDequeue(); ok {
			s.recordDroppedOldest()
		}
		if s.ring.TryEnqueue(value) {
			s.recordEnqueued()
			return
		}
	}
}

func (s *LockFreeSource[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump 把唤醒信号转换为消费者调度器上的排空任务，同一时刻最多挂起一个
func (s *LockFreeSource[T]) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			if s.pending.CompareAndSwap(false, true) {
				s.scheduler.Schedule(s.scheduledFlush)
			}
		}
	}
}

func (s *LockFreeSource[T]) scheduledFlush() {
	s.pending.Store(false)
	s.Flush()
}

// Flush 在调用者goroutine中排空队列并发布，返回发布的数量。
// 订阅者的回调中不能调用Flush。
func (s *LockFreeSource[T]) Flush() int {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	n := 0
	for {
		progressed := false
		for {
			v, ok := s.ring.TryDequeue()
			if !ok {
				if s.ring.Len() > 0 {
					// 生产者已占位但还没写完，溢出列表中的值必须排在它后面
					runtime.Gosched()
					continue
				}
				break
			}
			s.subject.OnNext(v)
			n++
			progressed = true
		}
		if s.overflowLen.Load() > 0 {
			s.overflowMu.Lock()
			batch := s.overflow
			s.overflow = nil
			s.overflowLen.Store(0)
			s.overflowMu.Unlock()
			for _, v := range batch {
				s.subject.OnNext(v)
				n++
				progressed = true
			}
		}
		if !progressed {
			return n
		}
	}
}

// Stats 累计计数
func (s *LockFreeSource[T]) Stats() SourceStats {
	return SourceStats{
		Enqueued:      s.enqueued.Load(),
		Overflowed:    s.overflowed.Load(),
		DroppedNewest: s.droppedNewest.Load(),
		DroppedOldest: s.droppedOldest.Load(),
	}
}

// Close 停止唤醒泵，发布剩余的值并完成所有订阅者
func (s *LockFreeSource[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.stop)
	<-s.pumpDone
	s.Flush()

	stats := s.Stats()
	if dropped := stats.DroppedNewest + stats.DroppedOldest; dropped > 0 {
		s.logger.Warn("lock-free source closed after dropping values",
			zap.Int64("dropped_newest", stats.DroppedNewest),
			zap.Int64("dropped_oldest", stats.DroppedOldest))
	}
	s.subject.OnCompleted()
}
