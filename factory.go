// Factory functions for rxrt
// 创建操作符：每次订阅重新执行，除非另有说明
package rxrt

import (
	"math"
	"time"

	"golang.org/x/exp/constraints"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// Create 由subscribe决定发射什么。subscribe在订阅者的goroutine中同步执行，
// 长时间运行的生产者应当检查Emitter.IsDisposed或另起goroutine
func Create[T any](subscribe func(e *Emitter[T])) Observable[T] {
	return wrap[T](newObservable(func(s *subscriber) {
		subscribe(&Emitter[T]{s: s})
	}))
}

// Defer 每次订阅时调用factory创建新的Observable
func Defer[T any](factory func() Observable[T]) Observable[T] {
	return wrap[T](newObservable(func(s *subscriber) {
		var src Observable[T]
		if err := safeInvoke("defer", func() error {
			src = factory()
			return nil
		}); err != nil {
			s.onError(err)
			return
		}
		src.src.subscribe(s)
	}))
}

// Empty 立即完成
func Empty[T any]() Observable[T] {
	return wrap[T](emptyObservable)
}

var emptyObservable = newObservable(func(s *subscriber) { s.onCompleted() })

// Never 永不发射任何通知
func Never[T any]() Observable[T] {
	return wrap[T](newObservable(func(*subscriber) {}))
}

// Error 立即发射错误
func Error[T any](err error) Observable[T] {
	return wrap[T](newObservable(func(s *subscriber) { s.onError(err) }))
}

// Just 发射一个值后完成
func Just[T any](value T) Observable[T] {
	return From(value)
}

// ============================================================================
// 从数据源创建
// ============================================================================

// From 依次发射values后完成
func From[T any](values ...T) Observable[T] {
	return FromSlice(values)
}

// FromSlice 依次发射切片中的值后完成，订阅时读取切片
func FromSlice[T any](values []T) Observable[T] {
	return wrap[T](fromValues(values))
}

func fromValues[T any](values []T) *observable {
	return newObservable(func(s *subscriber) {
		for _, v := range values {
			if s.IsDisposed() {
				return
			}
			s.onNext(ValueOf(v))
		}
		s.onCompleted()
	})
}

// FromChannel 在单独的goroutine中读取ch，直到ch关闭或订阅被取消
func FromChannel[T any](ch <-chan T) Observable[T] {
	return wrap[T](newObservable(func(s *subscriber) {
		done := make(chan struct{})
		s.add(func() { close(done) })
		go func() {
			for {
				select {
				case <-done:
					return
				case v, ok := <-ch:
					if !ok {
						s.onCompleted()
						return
					}
					s.onNext(ValueOf(v))
				}
			}
		}()
	}))
}

// Repeat 发射value共times次后完成
func Repeat[T any](value T, times int) Observable[T] {
	v := ValueOf(value)
	return wrap[T](newObservable(func(s *subscriber) {
		for i := 0; i < times; i++ {
			if s.IsDisposed() {
				return
			}
			s.onNext(v)
		}
		s.onCompleted()
	}))
}

// RepeatForever 同步地无限发射value，需要下游用Take等操作符终止
func RepeatForever[T any](value T) Observable[T] {
	v := ValueOf(value)
	return wrap[T](newObservable(func(s *subscriber) {
		for !s.IsDisposed() {
			s.onNext(v)
		}
	}))
}

// Range 发射first到last（含）之间的值，步长为1
func Range[N constraints.Integer | constraints.Float](first, last N) (Observable[N], error) {
	return RangeStep(first, last, 1)
}

// RangeStep 从first开始按step递增，最后一个值固定为last。
// first > last、step <= 0、step为NaN或端点不是有限值时返回ErrInvalidRange。
func RangeStep[N constraints.Integer | constraints.Float](first, last, step N) (Observable[N], error) {
	if !isFinite(first) || !isFinite(last) || isNaN(step) || first > last || step <= 0 {
		return Observable[N]{}, invalidRange(first, last, step)
	}
	return wrap[N](newObservable(func(s *subscriber) {
		for v := first; ; v += step {
			if s.IsDisposed() {
				return
			}
			s.onNext(ValueOf(v))
			if last-v <= step {
				if v != last {
					s.onNext(ValueOf(last))
				}
				break
			}
		}
		s.onCompleted()
	})), nil
}

// isNaN 只有浮点NaN不等于自身
func isNaN[N constraints.Integer | constraints.Float](v N) bool {
	return v != v
}

func isFinite[N constraints.Integer | constraints.Float](v N) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ============================================================================
// 时间相关工厂函数
// ============================================================================

// Interval 每隔period发射1, 2, 3…，第一个值在订阅后一个周期发射。
// 默认使用NewThread调度器，可用WithScheduler替换。
func Interval(period time.Duration, opts ...Option) Observable[int] {
	config := newConfig(opts)
	scheduler := config.Scheduler
	return wrap[int](newObservable(func(s *subscriber) {
		sch := scheduler
		if sch == nil {
			sch = NewThread()
		}
		counter := 0
		task := ScheduleRecurring(sch, func() {
			counter++
			s.onNext(ValueOf(counter))
		}, period)
		s.add(task.Dispose)
	}))
}

// Timer 延迟delay后发射0并完成
func Timer(delay time.Duration, opts ...Option) Observable[int] {
	config := newConfig(opts)
	scheduler := config.Scheduler
	return wrap[int](newObservable(func(s *subscriber) {
		sch := scheduler
		if sch == nil {
			sch = NewThread()
		}
		task := sch.ScheduleWithDelay(func() {
			s.onNext(ValueOf(0))
			s.onCompleted()
		}, delay)
		s.add(task.Dispose)
	}))
}

// Start 在scheduler上执行fn，发射结果后完成
func Start[T any](fn func() (T, error), scheduler Scheduler) Observable[T] {
	return wrap[T](newObservable(func(s *subscriber) {
		task := scheduler.Schedule(func() {
			var result T
			if err := safeInvoke("start", func() (err error) {
				result, err = fn()
				return err
			}); err != nil {
				s.onError(err)
				return
			}
			s.onNext(ValueOf(result))
			s.onCompleted()
		})
		s.add(task.Dispose)
	}))
}
