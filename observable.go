// Observable implementation for rxrt
// 类型化的Observable：在边界处把T与Value互相转换，核心逻辑在引擎层
package rxrt

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Observable 核心类型
// ============================================================================

// Observable 冷的可观察序列：描述如何产生数据，每次订阅独立执行。
// 零值不可用，请通过工厂函数或Subject获得。
type Observable[T any] struct {
	src *observable
}

// Notifier 任意元素类型的Observable，用作TakeUntil/SkipUntil等的信号源
type Notifier interface {
	engine() *observable
}

func (o Observable[T]) engine() *observable { return o.src }

func wrap[T any](src *observable) Observable[T] {
	return Observable[T]{src: src}
}

// Subscribe 订阅观察者，返回用于取消的Disposable
func (o Observable[T]) Subscribe(observer Observer[T]) Disposable {
	return subscribeObserver(o.src, observer)
}

// SubscribeWithCallbacks 使用回调函数订阅，任意回调可以为nil。
// onError为nil时错误交给未处理错误处理函数（默认终止进程）。
func (o Observable[T]) SubscribeWithCallbacks(onNext func(T), onError func(error), onCompleted func()) Disposable {
	return o.Subscribe(ObserverFuncs[T]{Next: onNext, Error: onError, Completed: onCompleted})
}

func subscribeObserver[T any](src *observable, observer Observer[T]) *subscriber {
	var s *subscriber
	s = newSubscriber(func(it item) {
		switch it.kind {
		case itemNext:
			v, err := Get[T](it.value)
			if err != nil {
				s.onError(err)
				return
			}
			observer.OnNext(v)
		case itemError:
			observer.OnError(it.err)
		default:
			observer.OnCompleted()
		}
	})
	src.subscribe(s)
	return s
}

// AsValues 以动态值查看同一序列
func (o Observable[T]) AsValues() Observable[Value] {
	return wrap[Value](o.src)
}

// typed 把Value转换为T后交给fn，转换失败时向下游发送错误
func typed[T any](down *subscriber, fn func(v T, raw Value)) func(item) {
	return func(it item) {
		if passTerminal(down, it) {
			return
		}
		v, err := Get[T](it.value)
		if err != nil {
			down.onError(err)
			return
		}
		fn(v, it.value)
	}
}

// ============================================================================
// 调度
// ============================================================================

// ObserveOn 之后的下游通知都在scheduler上执行，保持原有顺序
func (o Observable[T]) ObserveOn(scheduler Scheduler) Observable[T] {
	return wrap[T](o.src.observeOn(scheduler))
}

func (o *observable) observeOn(scheduler Scheduler) *observable {
	return o.lift(func(down *subscriber) func(item) {
		q := &observeOnQueue{scheduler: scheduler, down: down}
		return q.push
	})
}

// observeOnQueue 每个订阅一个队列，同一时刻最多一个排空任务在调度器上运行
type observeOnQueue struct {
	scheduler Scheduler
	down      *subscriber

	mu      sync.Mutex
	buf     []item
	running bool
}

func (q *observeOnQueue) push(it item) {
	q.mu.Lock()
	q.buf = append(q.buf, it)
	start := !q.running
	q.running = true
	q.mu.Unlock()
	if start {
		q.scheduler.Schedule(q.run)
	}
}

func (q *observeOnQueue) run() {
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		it := q.buf[0]
		q.buf[0] = item{}
		q.buf = q.buf[1:]
		q.mu.Unlock()
		q.down.emit(it)
	}
}

// SubscribeOn 在scheduler上执行对上游的订阅
func (o Observable[T]) SubscribeOn(scheduler Scheduler) Observable[T] {
	src := o.src
	return wrap[T](newObservable(func(down *subscriber) {
		task := scheduler.Schedule(func() {
			if !down.IsDisposed() {
				src.subscribe(down)
			}
		})
		down.add(task.Dispose)
	}))
}

// ============================================================================
// 过滤操作符
// ============================================================================

// Filter 只保留predicate为true的值
func (o Observable[T]) Filter(predicate func(T) bool) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return typed(down, func(v T, raw Value) {
			var keep bool
			if err := safeInvoke("filter", func() error {
				keep = predicate(v)
				return nil
			}); err != nil {
				down.onError(err)
				return
			}
			if keep {
				down.onNext(raw)
			}
		})
	}))
}

// Take 取前count个值后完成
func (o Observable[T]) Take(count int) Observable[T] {
	return wrap[T](o.src.take(count))
}

func (o *observable) take(count int) *observable {
	if count <= 0 {
		return newObservable(func(s *subscriber) { s.onCompleted() })
	}
	return o.lift(func(down *subscriber) func(item) {
		var taken atomic.Int64
		return func(it item) {
			if passTerminal(down, it) {
				return
			}
			n := taken.Add(1)
			if n > int64(count) {
				return
			}
			down.onNext(it.value)
			if n == int64(count) {
				down.onCompleted()
			}
		}
	})
}

// Skip 跳过前count个值
func (o Observable[T]) Skip(count int) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		var seen atomic.Int64
		return func(it item) {
			if passTerminal(down, it) {
				return
			}
			if seen.Add(1) > int64(count) {
				down.onNext(it.value)
			}
		}
	}))
}

// TakeLast 源完成时发射最后count个值
func (o Observable[T]) TakeLast(count int) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		var mu sync.Mutex
		buffer := make([]Value, 0, max(count, 0))
		return func(it item) {
			switch it.kind {
			case itemError:
				down.onError(it.err)
			case itemComplete:
				mu.Lock()
				values := buffer
				buffer = nil
				mu.Unlock()
				for _, v := range values {
					down.onNext(v)
				}
				down.onCompleted()
			default:
				if count <= 0 {
					return
				}
				mu.Lock()
				if len(buffer) == count {
					copy(buffer, buffer[1:])
					buffer = buffer[:count-1]
				}
				buffer = append(buffer, it.value)
				mu.Unlock()
			}
		}
	}))
}

// ElementAt 只发射第index个值（从0开始）后完成；
// 源提前完成时发送ErrElementNotFound
func (o Observable[T]) ElementAt(index int) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		var seen atomic.Int64
		return func(it item) {
			switch it.kind {
			case itemError:
				down.onError(it.err)
			case itemComplete:
				down.onError(invalidIndex(index))
			default:
				if seen.Add(1)-1 == int64(index) {
					down.onNext(it.value)
					down.onCompleted()
				}
			}
		}
	}))
}

// TakeWhile 发射值直到predicate返回false，然后完成
func (o Observable[T]) TakeWhile(predicate func(T) bool) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return typed(down, func(v T, raw Value) {
			var keep bool
			if err := safeInvoke("takeWhile", func() error {
				keep = predicate(v)
				return nil
			}); err != nil {
				down.onError(err)
				return
			}
			if keep {
				down.onNext(raw)
			} else {
				down.onCompleted()
			}
		})
	}))
}

// TakeUntil 发射值直到other发出第一个值，然后完成
func (o Observable[T]) TakeUntil(other Notifier) Observable[T] {
	return wrap[T](o.src.takeUntil(other.engine()))
}

func (o *observable) takeUntil(other *observable) *observable {
	return newObservable(func(down *subscriber) {
		out := newSerializer(down.emit)
		subscribeChild(down, other, func(it item) {
			switch it.kind {
			case itemNext:
				out.push(completeItem())
			case itemError:
				out.push(it)
			}
		})
		if down.IsDisposed() {
			return
		}
		subscribeChild(down, o, out.push)
	})
}

// SkipUntil 丢弃值直到other发出第一个值
func (o Observable[T]) SkipUntil(other Notifier) Observable[T] {
	return wrap[T](o.src.skipUntil(other.engine()))
}

func (o *observable) skipUntil(other *observable) *observable {
	return newObservable(func(down *subscriber) {
		out := newSerializer(down.emit)
		var open atomic.Bool
		// 先创建子订阅再订阅，回调中读到的gate总是已赋值
		var gate *subscriber
		gate = newSubscriber(func(it item) {
			switch it.kind {
			case itemNext:
				if open.CompareAndSwap(false, true) {
					gate.Dispose()
				}
			case itemError:
				out.push(it)
			}
		})
		down.add(gate.Dispose)
		other.subscribe(gate)
		subscribeChild(down, o, func(it item) {
			if it.isTerminal() || open.Load() {
				out.push(it)
			}
		})
	})
}

// DistinctUntilChanged 丢弃与前一个值相等的值（Value.Equal语义），
// 只压缩相邻的重复
func (o Observable[T]) DistinctUntilChanged() Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		var mu sync.Mutex
		var last Value
		hasLast := false
		return func(it item) {
			if passTerminal(down, it) {
				return
			}
			mu.Lock()
			changed := !hasLast || !last.Equal(it.value)
			last, hasLast = it.value, true
			mu.Unlock()
			if changed {
				down.onNext(it.value)
			}
		}
	}))
}
