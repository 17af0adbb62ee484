// Advanced operators for rxrt
// 高阶操作符：FlatMap、SwitchOnNext、SwitchMap、StartWith、WithLatestFrom
package rxrt

import "sync"

// ============================================================================
// 内部订阅集合
// ============================================================================

// innerSet 持有高阶操作符的内部订阅，内部订阅终止后自动移除
type innerSet struct {
	mu       sync.Mutex
	nextID   uint64
	inners   map[uint64]*subscriber
	disposed bool
}

func newInnerSet() *innerSet {
	return &innerSet{inners: make(map[uint64]*subscriber)}
}

func (s *innerSet) subscribe(src *observable, handler func(item)) {
	var id uint64
	child := newSubscriber(func(it item) {
		if it.isTerminal() {
			s.mu.Lock()
			delete(s.inners, id)
			s.mu.Unlock()
		}
		handler(it)
	})

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		child.Dispose()
		return
	}
	s.nextID++
	id = s.nextID
	s.inners[id] = child
	s.mu.Unlock()

	src.subscribe(child)
}

func (s *innerSet) dispose() {
	s.mu.Lock()
	s.disposed = true
	inners := s.inners
	s.inners = nil
	s.mu.Unlock()

	for _, child := range inners {
		child.Dispose()
	}
}

// ============================================================================
// FlatMap
// ============================================================================

// FlatMap 把每个值映射为Observable并合并它们的输出。
// 外部源和所有内部源都完成后完成。
func FlatMap[T, U any](o Observable[T], mapper func(T) Observable[U]) Observable[U] {
	src := o.src
	return wrap[U](newObservable(func(down *subscriber) {
		out := newSerializer(down.emit)
		inners := newInnerSet()
		down.add(inners.dispose)

		var mu sync.Mutex
		active := 1
		finish := func() {
			mu.Lock()
			active--
			last := active == 0
			mu.Unlock()
			if last {
				out.push(completeItem())
			}
		}

		subscribeChild(down, src, func(it item) {
			switch it.kind {
			case itemError:
				out.push(it)
			case itemComplete:
				finish()
			default:
				v, err := Get[T](it.value)
				if err != nil {
					out.push(errorItem(err))
					return
				}
				var inner Observable[U]
				if err := safeInvoke("flatMap", func() error {
					inner = mapper(v)
					return nil
				}); err != nil {
					out.push(errorItem(err))
					return
				}
				mu.Lock()
				active++
				mu.Unlock()
				inners.subscribe(inner.src, func(it item) {
					if it.kind == itemComplete {
						finish()
						return
					}
					out.push(it)
				})
			}
		})
	}))
}

// ============================================================================
// SwitchOnNext / SwitchMap
// ============================================================================

// switchLatest 每个外部值都切换到新的内部源并释放上一个；
// 外部源完成且当前内部源完成后才完成
func switchLatest(outer *observable, toInner func(Value) (*observable, error)) *observable {
	return newObservable(func(down *subscriber) {
		out := newSerializer(down.emit)

		var (
			mu          sync.Mutex
			gen         uint64
			current     *subscriber
			innerActive bool
			outerDone   bool
		)
		down.add(func() {
			mu.Lock()
			c := current
			current = nil
			gen++
			mu.Unlock()
			if c != nil {
				c.Dispose()
			}
		})

		subscribeChild(down, outer, func(it item) {
			switch it.kind {
			case itemError:
				out.push(it)
				return
			case itemComplete:
				mu.Lock()
				outerDone = true
				if !innerActive {
					out.enqueue(it)
				}
				mu.Unlock()
				out.drain()
				return
			}

			inner, err := toInner(it.value)
			if err != nil {
				out.push(errorItem(err))
				return
			}

			var g uint64
			child := newSubscriber(func(it item) {
				mu.Lock()
				if g != gen {
					mu.Unlock()
					return
				}
				if it.kind == itemComplete {
					innerActive = false
					if outerDone {
						out.enqueue(it)
					}
				} else {
					out.enqueue(it)
				}
				mu.Unlock()
				out.drain()
			})

			mu.Lock()
			gen++
			g = gen
			prev := current
			current = child
			innerActive = true
			mu.Unlock()

			if prev != nil {
				prev.Dispose()
			}
			inner.subscribe(child)
		})
	})
}

// SwitchOnNext 总是转发最近一个内部Observable的值
func SwitchOnNext[T any](sources Observable[Observable[T]]) Observable[T] {
	return wrap[T](switchLatest(sources.src, func(v Value) (*observable, error) {
		inner, err := Get[Observable[T]](v)
		return inner.src, err
	}))
}

// SwitchMap 把每个值映射为Observable，只转发最近一个的值
func SwitchMap[T, U any](o Observable[T], mapper func(T) Observable[U]) Observable[U] {
	return wrap[U](switchLatest(o.src, func(v Value) (*observable, error) {
		t, err := Get[T](v)
		if err != nil {
			return nil, err
		}
		var inner Observable[U]
		if err := safeInvoke("switchMap", func() error {
			inner = mapper(t)
			return nil
		}); err != nil {
			return nil, err
		}
		return inner.src, nil
	}))
}

// ============================================================================
// StartWith
// ============================================================================

// StartWith 先发射values，再发射源的值
func (o Observable[T]) StartWith(values ...T) Observable[T] {
	checkArity("StartWith", len(values))
	return wrap[T](concat([]*observable{fromValues(values), o.src}))
}

// ============================================================================
// WithLatestFrom
// ============================================================================

// withLatestFrom 源发射时与其他源的最新值组合；
// 其他源都发射过之前源的值被丢弃，其他源的完成不影响结果
func withLatestFrom(src *observable, others []*observable, combine func([]Value) (Value, error)) *observable {
	return newObservable(func(down *subscriber) {
		out := combineOutput(down, combine)
		n := len(others)

		var mu sync.Mutex
		latest := make([]Value, n+1)
		has := make([]bool, n)
		missing := n

		for i, other := range others {
			if down.IsDisposed() {
				return
			}
			subscribeChild(down, other, func(it item) {
				switch it.kind {
				case itemNext:
					mu.Lock()
					if !has[i] {
						has[i] = true
						missing--
					}
					latest[i+1] = it.value
					mu.Unlock()
				case itemError:
					out.push(it)
				}
			})
		}
		if down.IsDisposed() {
			return
		}
		subscribeChild(down, src, func(it item) {
			mu.Lock()
			switch {
			case it.kind != itemNext:
				out.enqueue(it)
			case missing == 0:
				latest[0] = it.value
				out.enqueue(snapshotItem(latest))
			}
			mu.Unlock()
			out.drain()
		})
	})
}

// WithLatestFrom 源的每个值与others的最新值组合，结果第一个元素是源的值
func WithLatestFrom[T any](src Observable[T], others ...Observable[T]) Observable[[]T] {
	checkArity("WithLatestFrom", len(others))
	sources := make([]*observable, len(others))
	for i, o := range others {
		sources[i] = o.src
	}
	return wrap[[]T](withLatestFrom(src.src, sources, homogeneous[T]))
}

// WithLatestFrom2 源的每个值与other的最新值用combiner组合
func WithLatestFrom2[A, B, R any](src Observable[A], other Observable[B], combiner func(A, B) R) Observable[R] {
	return wrap[R](withLatestFrom(src.src, []*observable{other.src}, combine2(combiner)))
}
