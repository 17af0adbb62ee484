// Combination operators for rxrt
// 组合操作符：Merge、Concat、CombineLatest、Zip
package rxrt

import (
	"fmt"
	"sync"
)

// maxArity 可变参数组合操作符最多接受的额外源数量
const maxArity = 8

func checkArity(op string, n int) {
	if n > maxArity {
		panic(fmt.Sprintf("rxrt: %s accepts at most %d additional sources, got %d", op, maxArity, n))
	}
}

func engines[T any](first Observable[T], others []Observable[T]) []*observable {
	all := make([]*observable, 0, len(others)+1)
	all = append(all, first.src)
	for _, o := range others {
		all = append(all, o.src)
	}
	return all
}

// ============================================================================
// Merge / Concat
// ============================================================================

// Merge 同时订阅所有源，按到达顺序转发值；全部完成后完成，任一出错即出错
func Merge[T any](first Observable[T], others ...Observable[T]) Observable[T] {
	checkArity("Merge", len(others))
	return wrap[T](merge(engines(first, others)))
}

func merge(sources []*observable) *observable {
	return newObservable(func(down *subscriber) {
		out := newSerializer(down.emit)
		var mu sync.Mutex
		active := len(sources)
		for _, src := range sources {
			if down.IsDisposed() {
				return
			}
			subscribeChild(down, src, func(it item) {
				if it.kind == itemComplete {
					mu.Lock()
					active--
					last := active == 0
					mu.Unlock()
					if !last {
						return
					}
				}
				out.push(it)
			})
		}
	})
}

// Concat 依次订阅各个源，前一个完成后才订阅下一个
func Concat[T any](first Observable[T], others ...Observable[T]) Observable[T] {
	checkArity("Concat", len(others))
	return wrap[T](concat(engines(first, others)))
}

func concat(sources []*observable) *observable {
	return newObservable(func(down *subscriber) {
		var next func(i int)
		next = func(i int) {
			if i == len(sources) {
				down.onCompleted()
				return
			}
			if down.IsDisposed() {
				return
			}
			subscribeChild(down, sources[i], func(it item) {
				if it.kind == itemComplete {
					next(i + 1)
					return
				}
				down.emit(it)
			})
		}
		next(0)
	})
}

// ============================================================================
// CombineLatest
// ============================================================================

// combineOutput 在锁内按顺序入队快照，投递时才调用用户的combine
func combineOutput(down *subscriber, combine func([]Value) (Value, error)) *serializer {
	return newSerializer(func(it item) {
		if it.kind != itemNext {
			down.emit(it)
			return
		}
		snapshot := it.value.cell.value.([]Value)
		var result Value
		if err := safeInvoke("combine", func() (err error) {
			result, err = combine(snapshot)
			return err
		}); err != nil {
			down.onError(err)
			return
		}
		down.onNext(result)
	})
}

func snapshotItem(values []Value) item {
	snapshot := make([]Value, len(values))
	copy(snapshot, values)
	return nextItem(ValueOf(snapshot))
}

// combineLatest 所有源都至少发射过一次后，任一源发射时用各源的最新值组合。
// 某个源在发射之前就完成时结果直接完成。
func combineLatest(sources []*observable, combine func([]Value) (Value, error)) *observable {
	return newObservable(func(down *subscriber) {
		n := len(sources)
		out := combineOutput(down, combine)

		var mu sync.Mutex
		values := make([]Value, n)
		has := make([]bool, n)
		missing, active := n, n

		for i, src := range sources {
			if down.IsDisposed() {
				return
			}
			subscribeChild(down, src, func(it item) {
				mu.Lock()
				switch it.kind {
				case itemNext:
					if !has[i] {
						has[i] = true
						missing--
					}
					values[i] = it.value
					if missing == 0 {
						out.enqueue(snapshotItem(values))
					}
				case itemError:
					out.enqueue(it)
				default:
					active--
					if active == 0 || !has[i] {
						out.enqueue(it)
					}
				}
				mu.Unlock()
				out.drain()
			})
		}
	})
}

// CombineLatest 组合同类型源的最新值，结果按源的顺序排列
func CombineLatest[T any](first Observable[T], others ...Observable[T]) Observable[[]T] {
	checkArity("CombineLatest", len(others))
	return wrap[[]T](combineLatest(engines(first, others), homogeneous[T]))
}

// CombineLatest2 用combiner组合两个源的最新值
func CombineLatest2[A, B, R any](a Observable[A], b Observable[B], combiner func(A, B) R) Observable[R] {
	return wrap[R](combineLatest([]*observable{a.src, b.src}, combine2(combiner)))
}

// CombineLatest3 用combiner组合三个源的最新值
func CombineLatest3[A, B, C, R any](a Observable[A], b Observable[B], c Observable[C], combiner func(A, B, C) R) Observable[R] {
	return wrap[R](combineLatest([]*observable{a.src, b.src, c.src}, combine3(combiner)))
}

func homogeneous[T any](values []Value) (Value, error) {
	out := make([]T, len(values))
	for i, v := range values {
		t, err := Get[T](v)
		if err != nil {
			return Value{}, err
		}
		out[i] = t
	}
	return ValueOf(out), nil
}

func combine2[A, B, R any](combiner func(A, B) R) func([]Value) (Value, error) {
	return func(values []Value) (Value, error) {
		a, err := Get[A](values[0])
		if err != nil {
			return Value{}, err
		}
		b, err := Get[B](values[1])
		if err != nil {
			return Value{}, err
		}
		return ValueOf(combiner(a, b)), nil
	}
}

func combine3[A, B, C, R any](combiner func(A, B, C) R) func([]Value) (Value, error) {
	return func(values []Value) (Value, error) {
		a, err := Get[A](values[0])
		if err != nil {
			return Value{}, err
		}
		b, err := Get[B](values[1])
		if err != nil {
			return Value{}, err
		}
		c, err := Get[C](values[2])
		if err != nil {
			return Value{}, err
		}
		return ValueOf(combiner(a, b, c)), nil
	}
}

// ============================================================================
// Zip
// ============================================================================

// zip 按索引配对：每个源的第k个值组合成第k个结果。
// 某个源完成且它的缓冲为空时结果完成。
func zip(sources []*observable, combine func([]Value) (Value, error)) *observable {
	return newObservable(func(down *subscriber) {
		n := len(sources)
		out := combineOutput(down, combine)

		var mu sync.Mutex
		queues := make([][]Value, n)
		done := make([]bool, n)

		exhausted := func() bool {
			for j := range queues {
				if done[j] && len(queues[j]) == 0 {
					return true
				}
			}
			return false
		}

		for i, src := range sources {
			if down.IsDisposed() {
				return
			}
			subscribeChild(down, src, func(it item) {
				mu.Lock()
				switch it.kind {
				case itemNext:
					queues[i] = append(queues[i], it.value)
					ready := true
					for _, q := range queues {
						if len(q) == 0 {
							ready = false
							break
						}
					}
					if ready {
						heads := make([]Value, n)
						for j := range queues {
							heads[j] = queues[j][0]
							queues[j][0] = Value{}
							queues[j] = queues[j][1:]
						}
						out.enqueue(nextItem(ValueOf(heads)))
						if exhausted() {
							out.enqueue(completeItem())
						}
					}
				case itemError:
					out.enqueue(it)
				default:
					done[i] = true
					if len(queues[i]) == 0 {
						out.enqueue(it)
					}
				}
				mu.Unlock()
				out.drain()
			})
		}
	})
}

// Zip 按索引配对同类型源的值
func Zip[T any](first Observable[T], others ...Observable[T]) Observable[[]T] {
	checkArity("Zip", len(others))
	return wrap[[]T](zip(engines(first, others), homogeneous[T]))
}

// Zip2 按索引用combiner配对两个源的值
func Zip2[A, B, R any](a Observable[A], b Observable[B], combiner func(A, B) R) Observable[R] {
	return wrap[R](zip([]*observable{a.src, b.src}, combine2(combiner)))
}

// Zip3 按索引用combiner配对三个源的值
func Zip3[A, B, C, R any](a Observable[A], b Observable[B], c Observable[C], combiner func(A, B, C) R) Observable[R] {
	return wrap[R](zip([]*observable{a.src, b.src, c.src}, combine3(combiner)))
}
