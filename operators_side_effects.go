// Side effect operators for rxrt
// 副作用操作符：DoOnNext、DoOnError、DoOnCompleted、DoFinally
package rxrt

// DoOnNext 每个值转发之前执行action；action panic时以ErrCallbackPanic终止
func (o Observable[T]) DoOnNext(action func(T)) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return typed(down, func(v T, raw Value) {
			if err := safeInvoke("doOnNext", func() error {
				action(v)
				return nil
			}); err != nil {
				down.onError(err)
				return
			}
			down.onNext(raw)
		})
	}))
}

// DoOnError 转发错误之前执行action
func (o Observable[T]) DoOnError(action func(error)) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return func(it item) {
			if it.kind == itemError {
				if err := safeInvoke("doOnError", func() error {
					action(it.err)
					return nil
				}); err != nil {
					down.onError(err)
					return
				}
			}
			down.emit(it)
		}
	}))
}

// DoOnCompleted 转发完成之前执行action
func (o Observable[T]) DoOnCompleted(action func()) Observable[T] {
	return wrap[T](o.src.lift(func(down *subscriber) func(item) {
		return func(it item) {
			if it.kind == itemComplete {
				if err := safeInvoke("doOnCompleted", func() error {
					action()
					return nil
				}); err != nil {
					down.onError(err)
					return
				}
			}
			down.emit(it)
		}
	}))
}

// DoFinally 订阅结束时（终止或取消）执行一次action
func (o Observable[T]) DoFinally(action func()) Observable[T] {
	src := o.src
	return wrap[T](newObservable(func(down *subscriber) {
		down.add(action)
		src.subscribe(down)
	}))
}
