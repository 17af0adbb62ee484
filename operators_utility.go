// Utility operators for rxrt
// 工具操作符：Map、IgnoreElements、DefaultIfEmpty、SwitchIfEmpty
package rxrt

import "sync/atomic"

// Map 用mapper转换每个值；mapper返回错误或panic时以该错误终止
func Map[T, U any](o Observable[T], mapper func(T) (U, error)) Observable[U] {
	return wrap[U](o.src.lift(func(down *subscriber) func(item) {
		return typed(down, func(v T, _ Value) {
			var out U
			if err := safeInvoke("map", func() (err error) {
				out, err = mapper(v)
				return err
			}); err != nil {
				down.onError(err)
				return
			}
			down.onNext(ValueOf(out))
		})
	}))
}

// IgnoreElements 丢弃所有值，只转发终止事件
func (o Observable[T]) IgnoreElements() Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return func(it item) {
			passTerminal(down, it)
		}
	}))
}

// DefaultIfEmpty 源没有发射任何值就完成时发射defaultValue
func (o Observable[T]) DefaultIfEmpty(defaultValue T) Observable[T] {
	fallback := ValueOf(defaultValue)
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		var seen atomic.Bool
		return func(it item) {
			switch it.kind {
			case itemNext:
				seen.Store(true)
				down.onNext(it.value)
			case itemError:
				down.onError(it.err)
			default:
				if !seen.Load() {
					down.onNext(fallback)
				}
				down.onCompleted()
			}
		}
	}))
}

// SwitchIfEmpty 源没有发射任何值就完成时改为订阅other
func (o Observable[T]) SwitchIfEmpty(other Observable[T]) Observable[T] {
	src, alt := o.src, other.src
	return wrap[T](newObservable(func(down *subscriber) {
		var seen atomic.Bool
		subscribeChild(down, src, func(it item) {
			switch it.kind {
			case itemNext:
				seen.Store(true)
				down.onNext(it.value)
			case itemError:
				down.onError(it.err)
			default:
				if seen.Load() {
					down.onCompleted()
					return
				}
				subscribeChild(down, alt, down.emit)
			}
		})
	}))
}
