// Error handling operators for rxrt
// 错误处理操作符：Catch、OnErrorReturn、Retry
package rxrt

import "sync"

// Catch 源出错时改为订阅handler返回的Observable
func (o Observable[T]) Catch(handler func(error) Observable[T]) Observable[T] {
	src := o.src
	return wrap[T](newObservable(func(down *subscriber) {
		subscribeChild(down, src, func(it item) {
			if it.kind != itemError {
				down.emit(it)
				return
			}
			var fallback Observable[T]
			if err := safeInvoke("catch", func() error {
				fallback = handler(it.err)
				return nil
			}); err != nil {
				down.onError(err)
				return
			}
			subscribeChild(down, fallback.src, down.emit)
		})
	}))
}

// OnErrorReturn 源出错时发射value后完成
func (o Observable[T]) OnErrorReturn(value T) Observable[T] {
	fallback := ValueOf(value)
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return func(it item) {
			if it.kind == itemError {
				down.onNext(fallback)
				down.onCompleted()
				return
			}
			down.emit(it)
		}
	}))
}

// Retry 源出错时重新订阅，最多count次；次数用完后转发最后的错误
func (o Observable[T]) Retry(count int) Observable[T] {
	src := o.src
	return wrap[T](newObservable(func(down *subscriber) {
		var (
			mu       sync.Mutex
			attempts int
			current  *subscriber
		)
		down.add(func() {
			mu.Lock()
			c := current
			current = nil
			mu.Unlock()
			if c != nil {
				c.Dispose()
			}
		})

		// 同步出错的源在循环中重试，避免递归加深调用栈
		var resubscribe bool
		var subscribing bool
		var attempt func()
		attempt = func() {
			child := newSubscriber(func(it item) {
				if it.kind != itemError {
					down.emit(it)
					return
				}
				mu.Lock()
				attempts++
				retry := attempts <= count && !down.IsDisposed()
				if retry && subscribing {
					resubscribe = true
					mu.Unlock()
					return
				}
				mu.Unlock()
				if !retry {
					down.onError(it.err)
					return
				}
				attempt()
			})

			mu.Lock()
			if down.IsDisposed() {
				mu.Unlock()
				return
			}
			current = child
			subscribing = true
			mu.Unlock()

			for {
				src.subscribe(child)
				mu.Lock()
				again := resubscribe
				resubscribe = false
				if !again {
					subscribing = false
					mu.Unlock()
					return
				}
				child = newSubscriber(child.dest)
				current = child
				mu.Unlock()
			}
		}
		attempt()
	}))
}
