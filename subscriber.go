// Subscription engine for rxrt
// 类型擦除的订阅引擎：subscriber、串行化器与observable
package rxrt

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// subscriber
// ============================================================================

// subscriber 一次订阅的接收端。收到终止事件后关闭，之后的事件全部丢弃；
// 关闭时执行登记的teardown（通常是释放上游订阅）。
type subscriber struct {
	dest   func(item)
	closed atomic.Bool

	mu        sync.Mutex
	released  bool
	teardowns []func()
}

func newSubscriber(dest func(item)) *subscriber {
	return &subscriber{dest: dest}
}

func (s *subscriber) onNext(v Value) {
	if !s.closed.Load() {
		s.dest(nextItem(v))
	}
}

func (s *subscriber) onError(err error) {
	if s.closed.CompareAndSwap(false, true) {
		defer s.release()
		s.dest(errorItem(err))
	}
}

func (s *subscriber) onCompleted() {
	if s.closed.CompareAndSwap(false, true) {
		defer s.release()
		s.dest(completeItem())
	}
}

// emit 按通知类型分发
func (s *subscriber) emit(it item) {
	switch it.kind {
	case itemNext:
		s.onNext(it.value)
	case itemError:
		s.onError(it.err)
	default:
		s.onCompleted()
	}
}

// add 登记teardown；已释放时立即执行
func (s *subscriber) add(teardown func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		teardown()
		return
	}
	s.teardowns = append(s.teardowns, teardown)
	s.mu.Unlock()
}

func (s *subscriber) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	teardowns := s.teardowns
	s.teardowns = nil
	s.mu.Unlock()

	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
}

// Dispose 停止向该订阅投递，不影响生产者和其他订阅者
func (s *subscriber) Dispose() {
	s.closed.Store(true)
	s.release()
}

// IsDisposed 是否已关闭
func (s *subscriber) IsDisposed() bool {
	return s.closed.Load()
}

// ============================================================================
// serializer
// ============================================================================

// serializer 把来自多个goroutine或重入调用的通知排队，
// 同一时刻只有一个调用者在投递，保持入队顺序。
type serializer struct {
	dest func(item)

	mu       sync.Mutex
	queue    []item
	head     int
	draining bool
}

func newSerializer(dest func(item)) *serializer {
	return &serializer{dest: dest}
}

// push 入队并尝试投递
func (q *serializer) push(it item) {
	q.enqueue(it)
	q.drain()
}

// enqueue 只入队，调用方稍后调用drain
func (q *serializer) enqueue(it item) {
	q.mu.Lock()
	q.queue = append(q.queue, it)
	q.mu.Unlock()
}

// drain 投递队列中的所有通知；已有投递者时直接返回
func (q *serializer) drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for q.head < len(q.queue) {
		it := q.queue[q.head]
		q.queue[q.head] = item{}
		q.head++
		q.mu.Unlock()
		q.deliver(it)
		q.mu.Lock()
	}
	q.queue = q.queue[:0]
	q.head = 0
	q.draining = false
	q.mu.Unlock()
}

func (q *serializer) deliver(it item) {
	ok := false
	defer func() {
		if !ok {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
		}
	}()
	q.dest(it)
	ok = true
}

// ============================================================================
// observable
// ============================================================================

// observable 引擎层的冷Observable：每次订阅重新执行onSubscribe
type observable struct {
	onSubscribe func(s *subscriber)
}

func newObservable(onSubscribe func(s *subscriber)) *observable {
	return &observable{onSubscribe: onSubscribe}
}

// subscribe 执行订阅例程；同步发射路径中的panic转为该订阅的OnError
func (o *observable) subscribe(s *subscriber) {
	defer func() {
		if r := recover(); r != nil {
			if s.IsDisposed() {
				panic(r)
			}
			s.onError(recoveredError("subscribe", r))
		}
	}()
	o.onSubscribe(s)
}

// lift 用op包装下游，上游订阅的释放挂在下游上，先登记再订阅
func (o *observable) lift(op func(down *subscriber) func(item)) *observable {
	return newObservable(func(down *subscriber) {
		up := newSubscriber(op(down))
		down.add(up.Dispose)
		o.subscribe(up)
	})
}

// subscribeChild 以down为父订阅src，返回子订阅
func subscribeChild(down *subscriber, src *observable, handler func(item)) *subscriber {
	child := newSubscriber(handler)
	down.add(child.Dispose)
	src.subscribe(child)
	return child
}

// passTerminal 转发终止事件，返回it是否为终止事件
func passTerminal(down *subscriber, it item) bool {
	switch it.kind {
	case itemError:
		down.onError(it.err)
		return true
	case itemComplete:
		down.onCompleted()
		return true
	}
	return false
}
