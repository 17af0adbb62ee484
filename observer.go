// Observer types for rxrt
package rxrt

// Observer 观察者：接收值、错误和完成三种通知
type Observer[T any] interface {
	OnNext(value T)
	OnError(err error)
	OnCompleted()
}

// ObserverFuncs 用函数实现Observer，字段可以为nil。
// Error为nil时错误交给未处理错误处理函数（默认终止进程）。
type ObserverFuncs[T any] struct {
	Next      func(value T)
	Error     func(err error)
	Completed func()
}

// OnNext 处理下一个值
func (f ObserverFuncs[T]) OnNext(value T) {
	if f.Next != nil {
		f.Next(value)
	}
}

// OnError 处理错误
func (f ObserverFuncs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
		return
	}
	handleUnhandled(err)
}

// OnCompleted 处理完成
func (f ObserverFuncs[T]) OnCompleted() {
	if f.Completed != nil {
		f.Completed()
	}
}

// Emitter 传给Create订阅例程的观察者，同时暴露订阅状态和teardown登记
type Emitter[T any] struct {
	s *subscriber
}

// OnNext 发射一个值
func (e *Emitter[T]) OnNext(value T) {
	e.s.onNext(ValueOf(value))
}

// OnError 发射错误
func (e *Emitter[T]) OnError(err error) {
	e.s.onError(err)
}

// OnCompleted 发射完成
func (e *Emitter[T]) OnCompleted() {
	e.s.onCompleted()
}

// IsDisposed 下游是否已取消或已终止，长时间运行的生产者应当检查
func (e *Emitter[T]) IsDisposed() bool {
	return e.s.IsDisposed()
}

// Add 登记订阅结束时执行的清理函数
func (e *Emitter[T]) Add(teardown func()) {
	e.s.add(teardown)
}
