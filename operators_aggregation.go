// Aggregation operators for rxrt
// 聚合操作符：Scan、Reduce、Count
package rxrt

import (
	"sync"
	"sync/atomic"
)

// Scan 从seed开始累积，每个值都发射当前累积结果
func Scan[T, A any](o Observable[T], seed A, accumulator func(acc A, v T) (A, error)) Observable[A] {
	return wrap[A](o.src.lift(func(down *subscriber) func(item) {
		var mu sync.Mutex
		acc := seed
		return typed(down, func(v T, _ Value) {
			mu.Lock()
			next := acc
			err := safeInvoke("scan", func() (err error) {
				next, err = accumulator(next, v)
				return err
			})
			if err == nil {
				acc = next
			}
			mu.Unlock()
			if err != nil {
				down.onError(err)
				return
			}
			down.onNext(ValueOf(next))
		})
	}))
}

// Reduce 从seed开始累积，源完成时发射最终结果
func Reduce[T, A any](o Observable[T], seed A, accumulator func(acc A, v T) (A, error)) Observable[A] {
	return wrap[A](o.src.lift(func(down *subscriber) func(item) {
		var mu sync.Mutex
		acc := seed
		return func(it item) {
			switch it.kind {
			case itemError:
				down.onError(it.err)
			case itemComplete:
				mu.Lock()
				result := acc
				mu.Unlock()
				down.onNext(ValueOf(result))
				down.onCompleted()
			default:
				v, err := Get[T](it.value)
				if err != nil {
					down.onError(err)
					return
				}
				mu.Lock()
				err = safeInvoke("reduce", func() (err error) {
					acc, err = accumulator(acc, v)
					return err
				})
				mu.Unlock()
				if err != nil {
					down.onError(err)
				}
			}
		}
	}))
}

// Count 源完成时发射值的数量
func (o Observable[T]) Count() Observable[int] {
	return wrap[int](o.src.lift(func(down *subscriber) func(item) {
		var n atomic.Int64
		return func(it item) {
			switch it.kind {
			case itemError:
				down.onError(it.err)
			case itemComplete:
				down.onNext(ValueOf(int(n.Load())))
				down.onCompleted()
			default:
				n.Add(1)
			}
		}
	}))
}
