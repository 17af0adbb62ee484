// Time-based operators for rxrt
// 时间操作符：Debounce、Sample、Delay。默认使用NewThread调度器，可用WithScheduler替换
package rxrt

import (
	"sync"
	"time"
)

func timeScheduler(opts []Option) Scheduler {
	if s := newConfig(opts).Scheduler; s != nil {
		return s
	}
	return NewThread()
}

// Debounce 值之后timeout内没有新值才发射它；源完成时立即发射挂起的值
func (o Observable[T]) Debounce(timeout time.Duration, opts ...Option) Observable[T] {
	scheduler := timeScheduler(opts)
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		out := newSerializer(down.emit)

		var (
			mu      sync.Mutex
			pending Value
			has     bool
			gen     uint64
			timer   Disposable
		)
		down.add(func() {
			mu.Lock()
			t := timer
			timer = nil
			gen++
			mu.Unlock()
			if t != nil {
				t.Dispose()
			}
		})

		return func(it item) {
			mu.Lock()
			gen++
			g := gen
			prev := timer
			timer = nil
			if it.kind == itemNext {
				pending, has = it.value, true
				mu.Unlock()
				if prev != nil {
					prev.Dispose()
				}

				t := scheduler.ScheduleWithDelay(func() {
					mu.Lock()
					if g == gen && has {
						out.enqueue(nextItem(pending))
						pending, has = Value{}, false
					}
					mu.Unlock()
					out.drain()
				}, timeout)

				mu.Lock()
				if g == gen {
					timer = t
					t = nil
				}
				mu.Unlock()
				if t != nil {
					t.Dispose()
				}
				return
			}

			if it.kind == itemComplete && has {
				out.enqueue(nextItem(pending))
			}
			pending, has = Value{}, false
			out.enqueue(it)
			mu.Unlock()
			if prev != nil {
				prev.Dispose()
			}
			out.drain()
		}
	}))
}

// Sample 每隔period发射这段时间内收到的最新值，没有新值的周期不发射。
// 源完成时丢弃未采样的值。
func (o Observable[T]) Sample(period time.Duration, opts ...Option) Observable[T] {
	scheduler := timeScheduler(opts)
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		out := newSerializer(down.emit)

		var (
			mu     sync.Mutex
			latest Value
			has    bool
		)
		ticker := ScheduleRecurring(scheduler, func() {
			mu.Lock()
			if has {
				out.enqueue(nextItem(latest))
				latest, has = Value{}, false
			}
			mu.Unlock()
			out.drain()
		}, period)
		down.add(ticker.Dispose)

		return func(it item) {
			mu.Lock()
			if it.kind == itemNext {
				latest, has = it.value, true
				mu.Unlock()
				return
			}
			latest, has = Value{}, false
			out.enqueue(it)
			mu.Unlock()
			out.drain()
		}
	}))
}

// Delay 把值和完成事件推迟delay后发射，顺序不变；错误立即发射。
// 取消订阅或出错时释放所有未到期的计时器。
func (o Observable[T]) Delay(delay time.Duration, opts ...Option) Observable[T] {
	scheduler := timeScheduler(opts)
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		out := newSerializer(down.emit)

		var (
			mu       sync.Mutex
			queue    []item
			nextID   uint64
			timers   = make(map[uint64]Disposable)
			disposed bool
		)
		// takeTimers 取出所有计时器，调用方持有mu
		takeTimers := func() map[uint64]Disposable {
			pending := timers
			timers = make(map[uint64]Disposable)
			return pending
		}
		cancel := func(pending map[uint64]Disposable) {
			for _, t := range pending {
				if t != nil {
					t.Dispose()
				}
			}
		}
		down.add(func() {
			mu.Lock()
			disposed = true
			queue = nil
			pending := takeTimers()
			mu.Unlock()
			cancel(pending)
		})

		// 每个到期任务取出队首，计时器的触发顺序不影响输出顺序
		pop := func(id uint64) {
			mu.Lock()
			delete(timers, id)
			if len(queue) > 0 {
				out.enqueue(queue[0])
				queue[0] = item{}
				queue = queue[1:]
			}
			mu.Unlock()
			out.drain()
		}

		return func(it item) {
			mu.Lock()
			if disposed {
				mu.Unlock()
				return
			}
			if it.kind == itemError {
				queue = nil
				pending := takeTimers()
				out.enqueue(it)
				mu.Unlock()
				cancel(pending)
				out.drain()
				return
			}
			queue = append(queue, it)
			nextID++
			id := nextID
			timers[id] = nil
			mu.Unlock()

			t := scheduler.ScheduleWithDelay(func() { pop(id) }, delay)

			// 登记之前已到期或已被取消：到期的释放无副作用，取消的在这里释放
			mu.Lock()
			_, waiting := timers[id]
			if waiting {
				timers[id] = t
			}
			mu.Unlock()
			if !waiting {
				t.Dispose()
			}
		}
	}))
}
