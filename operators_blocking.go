// Blocking operators for rxrt
// 阻塞操作符：在调用者goroutine中等待结果。
// 源的值由调用者之外的调度器（例如由同一goroutine驱动的RunLoop）产生时会死锁。
package rxrt

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ToSlice 订阅并收集所有值，直到源完成、出错或ctx取消
func (o Observable[T]) ToSlice(ctx context.Context) ([]T, error) {
	var (
		mu     sync.Mutex
		values []T
	)
	done := make(chan error, 1)
	sub := o.Subscribe(ObserverFuncs[T]{
		Next: func(v T) {
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		},
		Error:     func(err error) { done <- err },
		Completed: func() { done <- nil },
	})
	defer sub.Dispose()

	select {
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		return values, err
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return values, errors.Wrap(ctx.Err(), "rxrt: collect")
	}
}

// First 等待第一个值；源没有值就完成时返回ErrElementNotFound
func (o Observable[T]) First(ctx context.Context) (T, error) {
	values, err := o.Take(1).ToSlice(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(values) == 0 {
		var zero T
		return zero, invalidIndex(0)
	}
	return values[0], nil
}
