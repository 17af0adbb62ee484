// Subject implementations for rxrt
// Subject既是Observable也是Observer：BehaviorSubject、PublishSubject、ReplaySubject
package rxrt

import (
	"sync"
)

// ============================================================================
// subjectState - 三种Subject共用的状态
// ============================================================================

type subjectObserver struct {
	id  uint64
	out *serializer
}

// subjectState 观察者列表、最新值、重放缓冲区和终止记录。
// 通知在锁内入队到每个观察者的串行化器，锁外投递，
// 因此并发的OnNext与新订阅不会打乱任何观察者看到的顺序。
type subjectState struct {
	mu        sync.Mutex
	nextID    uint64
	observers []subjectObserver

	behavior  bool // 新订阅者先收到最新值
	replay    int  // 0 不重放；<0 不限；>0 最多保留replay个
	latest    Value
	hasLatest bool
	buffer    []Value
	terminal  *item
}

func newSubjectState(behavior bool, replay int) *subjectState {
	return &subjectState{behavior: behavior, replay: replay}
}

func (st *subjectState) observable() *observable {
	return newObservable(st.subscribe)
}

func (st *subjectState) subscribe(s *subscriber) {
	out := newSerializer(s.emit)

	st.mu.Lock()
	switch {
	case st.replay != 0:
		for _, v := range st.buffer {
			out.enqueue(nextItem(v))
		}
	case st.behavior && st.hasLatest:
		out.enqueue(nextItem(st.latest))
	}
	if st.terminal != nil {
		out.enqueue(*st.terminal)
		st.mu.Unlock()
		out.drain()
		return
	}
	st.nextID++
	id := st.nextID
	st.observers = append(st.observers, subjectObserver{id: id, out: out})
	st.mu.Unlock()

	s.add(func() { st.remove(id) })
	out.drain()
}

func (st *subjectState) remove(id uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, o := range st.observers {
		if o.id == id {
			st.observers = append(st.observers[:i], st.observers[i+1:]...)
			return
		}
	}
}

func (st *subjectState) onNext(v Value) {
	st.mu.Lock()
	st.latest, st.hasLatest = v, true
	if st.replay != 0 {
		st.buffer = append(st.buffer, v)
		if st.replay > 0 && len(st.buffer) > st.replay {
			n := copy(st.buffer, st.buffer[len(st.buffer)-st.replay:])
			clear(st.buffer[n:])
			st.buffer = st.buffer[:n]
		}
	}
	if st.terminal != nil {
		st.mu.Unlock()
		return
	}
	targets := st.enqueueLocked(nextItem(v))
	st.mu.Unlock()

	for _, out := range targets {
		out.drain()
	}
}

func (st *subjectState) onTerminal(it item) {
	st.mu.Lock()
	if st.terminal != nil {
		st.mu.Unlock()
		return
	}
	st.terminal = &it
	targets := st.enqueueLocked(it)
	st.observers = nil
	st.mu.Unlock()

	for _, out := range targets {
		out.drain()
	}
}

func (st *subjectState) enqueueLocked(it item) []*serializer {
	targets := make([]*serializer, len(st.observers))
	for i, o := range st.observers {
		o.out.enqueue(it)
		targets[i] = o.out
	}
	return targets
}

func (st *subjectState) latestValue() (Value, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.latest, st.hasLatest
}

func (st *subjectState) observerCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.observers)
}

// ============================================================================
// subjectBase - Observer能力
// ============================================================================

type subjectBase[T any] struct {
	Observable[T]
	state *subjectState
}

func newSubjectBase[T any](state *subjectState) subjectBase[T] {
	return subjectBase[T]{Observable: wrap[T](state.observable()), state: state}
}

// OnNext 同步地向当前所有观察者发送值
func (b *subjectBase[T]) OnNext(value T) {
	b.state.onNext(ValueOf(value))
}

// OnError 发送错误，重复的终止事件被忽略
func (b *subjectBase[T]) OnError(err error) {
	b.state.onTerminal(errorItem(err))
}

// OnCompleted 发送完成，重复的终止事件被忽略
func (b *subjectBase[T]) OnCompleted() {
	b.state.onTerminal(completeItem())
}

// HasObservers 是否有观察者
func (b *subjectBase[T]) HasObservers() bool {
	return b.state.observerCount() > 0
}

// ObserverCount 观察者数量
func (b *subjectBase[T]) ObserverCount() int {
	return b.state.observerCount()
}

// AsObserver 以Observer的身份使用该Subject
func (b *subjectBase[T]) AsObserver() Observer[T] {
	return b
}

// ============================================================================
// BehaviorSubject - 行为主题
// ============================================================================

// BehaviorSubject 保存最新值，新订阅者立即收到最新值
type BehaviorSubject[T any] struct {
	subjectBase[T]
}

// NewBehaviorSubject 创建带初始值的行为主题
func NewBehaviorSubject[T any](initial T) *BehaviorSubject[T] {
	state := newSubjectState(true, 0)
	state.latest, state.hasLatest = ValueOf(initial), true
	return &BehaviorSubject[T]{subjectBase: newSubjectBase[T](state)}
}

// LatestItem 最新值
func (s *BehaviorSubject[T]) LatestItem() T {
	v, _ := s.state.latestValue()
	out, _ := Get[T](v)
	return out
}

// ============================================================================
// PublishSubject - 发布主题
// ============================================================================

// PublishSubject 只向订阅之后的观察者发送新值
type PublishSubject[T any] struct {
	subjectBase[T]
}

// NewPublishSubject 创建发布主题
func NewPublishSubject[T any]() *PublishSubject[T] {
	return &PublishSubject[T]{subjectBase: newSubjectBase[T](newSubjectState(false, 0))}
}

// ============================================================================
// ReplaySubject - 重放主题
// ============================================================================

// ReplaySubject 缓存最近bufferSize个值，新订阅者先收到缓存的值
type ReplaySubject[T any] struct {
	subjectBase[T]
}

// NewReplaySubject 创建重放主题，bufferSize<=0 表示不限数量
func NewReplaySubject[T any](bufferSize int) *ReplaySubject[T] {
	replay := bufferSize
	if replay <= 0 {
		replay = -1
	}
	return &ReplaySubject[T]{subjectBase: newSubjectBase[T](newSubjectState(false, replay))}
}

// LatestItem 最新值；还没有值时返回false
func (s *ReplaySubject[T]) LatestItem() (T, bool) {
	v, ok := s.state.latestValue()
	if !ok {
		var zero T
		return zero, false
	}
	out, err := Get[T](v)
	return out, err == nil
}

// BufferedValues 当前缓存的值
func (s *ReplaySubject[T]) BufferedValues() []T {
	s.state.mu.Lock()
	values := make([]Value, len(s.state.buffer))
	copy(values, s.state.buffer)
	s.state.mu.Unlock()

	out := make([]T, 0, len(values))
	for _, v := range values {
		if t, err := Get[T](v); err == nil {
			out = append(out, t)
		}
	}
	return out
}
