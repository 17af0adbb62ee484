// Lock-free bridge tests for rxrt
// 无锁桥测试：环形队列、拥塞策略、目标读写
package rxrt

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func TestRoundCapacity(t *testing.T) {
	is := is.New(t)
	for in, want := range map[int]int{-1: 2, 0: 2, 1: 2, 2: 2, 3: 4, 4: 4, 5: 8, 256: 256, 257: 512} {
		is.Equal(roundCapacity(in), want)
	}
}

func TestBoundedQueue(t *testing.T) {
	t.Run("满了拒绝，空了返回false", func(t *testing.T) {
		is := is.New(t)
		q := newBoundedQueue[int](4)
		for i := 0; i < 4; i++ {
			is.True(q.TryEnqueue(i))
		}
		is.True(!q.TryEnqueue(4))
		is.Equal(q.Len(), 4)

		for i := 0; i < 4; i++ {
			v, ok := q.TryDequeue()
			is.True(ok)
			is.Equal(v, i)
		}
		_, ok := q.TryDequeue()
		is.True(!ok)
	})

	t.Run("多生产者多消费者不丢不重", func(t *testing.T) {
		is := is.New(t)
		q := newBoundedQueue[int](64)
		const producers, perProducer = 4, 5000

		var consumed atomic.Int64
		var sum atomic.Int64
		var g errgroup.Group
		for p := 0; p < producers; p++ {
			g.Go(func() error {
				for i := 1; i <= perProducer; i++ {
					for !q.TryEnqueue(i) {
					}
				}
				return nil
			})
		}
		for c := 0; c < 2; c++ {
			g.Go(func() error {
				for consumed.Load() < producers*perProducer {
					if v, ok := q.TryDequeue(); ok {
						sum.Add(int64(v))
						consumed.Add(1)
					}
				}
				return nil
			})
		}
		is.NoErr(g.Wait())
		is.Equal(sum.Load(), int64(producers*perProducer*(perProducer+1)/2))
	})
}

// newManualSource 使用不被驱动的RunLoop，测试中手动Flush
func newManualSource[T any](t *testing.T, capacity int, name string) (*LockFreeSource[T], *recorder[T]) {
	t.Helper()
	loop := NewRunLoop()
	source := NewLockFreeSource[T](capacity, WithName(name), WithScheduler(loop))
	r := newRecorder[T]()
	source.Subscribe(r)
	t.Cleanup(func() {
		source.Close()
		loop.Close()
	})
	return source, r
}

func TestLockFreeSourcePolicies(t *testing.T) {
	t.Run("DropOldest保留最新的值", func(t *testing.T) {
		is := is.New(t)
		source, r := newManualSource[int](t, 4, "drop_oldest")
		for i := 1; i <= 6; i++ {
			source.OnNext(i, DropOldest)
		}
		is.Equal(source.Flush(), 4)
		is.Equal(r.Values(), []int{3, 4, 5, 6})
		is.Equal(source.Stats(), SourceStats{Enqueued: 6, DroppedOldest: 2})
	})

	t.Run("DropNewest保留最早的值", func(t *testing.T) {
		is := is.New(t)
		source, r := newManualSource[int](t, 4, "drop_newest")
		for i := 1; i <= 6; i++ {
			source.OnNext(i, DropNewest)
		}
		source.Flush()
		is.Equal(r.Values(), []int{1, 2, 3, 4})
		is.Equal(source.Stats(), SourceStats{Enqueued: 4, DroppedNewest: 2})
	})

	t.Run("Allocate溢出不丢值且保持顺序", func(t *testing.T) {
		is := is.New(t)
		source, r := newManualSource[int](t, 4, "allocate")
		for i := 1; i <= 6; i++ {
			source.OnNext(i, Allocate)
		}
		source.Flush()
		is.Equal(r.Values(), []int{1, 2, 3, 4, 5, 6})
		is.Equal(source.Stats(), SourceStats{Enqueued: 4, Overflowed: 2})
	})

	t.Run("溢出后DropOldest先丢环形队列中的值", func(t *testing.T) {
		is := is.New(t)
		source, r := newManualSource[int](t, 2, "mixed")
		source.OnNext(1, Allocate)
		source.OnNext(2, Allocate)
		source.OnNext(3, Allocate) // 溢出
		source.OnNext(4, DropOldest)
		source.Flush()
		is.Equal(r.Values(), []int{2, 3, 4})
	})

	t.Run("Close发布剩余值并完成，之后的值被忽略", func(t *testing.T) {
		is := is.New(t)
		loop := NewRunLoop()
		defer loop.Close()
		source := NewLockFreeSource[string](8, WithScheduler(loop))
		r := newRecorder[string]()
		source.Subscribe(r)

		source.OnNext("a", Allocate)
		source.OnNext("b", Allocate)
		source.Close()
		source.OnNext("c", Allocate)
		source.Close()

		is.Equal(r.Values(), []string{"a", "b"})
		is.Equal(r.Completed(), 1)
	})

	t.Run("策略名称", func(t *testing.T) {
		is := is.New(t)
		is.Equal(DropOldest.String(), "drop_oldest")
		is.Equal(CongestionPolicy(9).String(), "unknown")
	})
}

func TestLockFreeSourceDelivery(t *testing.T) {
	t.Run("值在消费者调度器上发布", func(t *testing.T) {
		is := is.New(t)
		loop := NewEventLoop(WithName("consumer"))
		defer loop.Close()
		source := NewLockFreeSource[int](16, WithScheduler(loop))
		r := newRecorder[int]()
		source.Subscribe(r)

		source.OnNext(1, Allocate)
		source.OnNext(2, Allocate)
		source.Close()
		r.wait(t)
		is.Equal(r.Values(), []int{1, 2})
	})

	t.Run("并发生产者各自保持顺序", func(t *testing.T) {
		is := is.New(t)
		loop := NewEventLoop(WithName("consumer"))
		defer loop.Close()
		source := NewLockFreeSource[int](64, WithName("concurrent"), WithScheduler(loop))
		r := newRecorder[int]()
		source.Subscribe(r)

		const producers, perProducer = 4, 2000
		var g errgroup.Group
		for p := 0; p < producers; p++ {
			g.Go(func() error {
				for i := 0; i < perProducer; i++ {
					source.OnNext(p*perProducer+i, Allocate)
				}
				return nil
			})
		}
		is.NoErr(g.Wait())
		source.Close()
		r.wait(t)

		values := r.Values()
		is.Equal(len(values), producers*perProducer)
		last := make([]int, producers)
		for p := range last {
			last[p] = -1
		}
		for _, v := range values {
			p, i := v/perProducer, v%perProducer
			is.True(i > last[p]) // 同一个生产者的值不乱序
			last[p] = i
		}
		stats := source.Stats()
		is.Equal(stats.Enqueued+stats.Overflowed, int64(producers*perProducer))
	})
}

// ============================================================================
// LockFreeTarget
// ============================================================================

type releasable struct {
	name     string
	released *atomic.Int32
}

func (r releasable) Release() { r.released.Add(1) }

func TestLockFreeTarget(t *testing.T) {
	t.Run("标量类型存放在原子字中", func(t *testing.T) {
		is := is.New(t)
		target := NewLockFreeTarget[float64]()
		is.True(!target.HasValue())
		is.Equal(target.GetValue(), 0.0)

		NewBehaviorSubject(0.5).Subscribe(target)
		is.True(target.HasValue())
		is.Equal(target.GetValue(), 0.5)

		is.True(isScalar[int8]())
		is.True(isScalar[bool]())
		is.True(isScalar[uintptr]())
		is.True(!isScalar[string]())
		is.True(!isScalar[complex128]())
		is.True(!isScalar[*int]())
	})

	t.Run("标量按位往返", func(t *testing.T) {
		is := is.New(t)
		is.Equal(fromBits[int8](toBits[int8](-5)), int8(-5))
		is.Equal(fromBits[float32](toBits[float32](1.25)), float32(1.25))
		is.Equal(fromBits[bool](toBits(true)), true)
	})

	t.Run("非标量为空时GetValue panic", func(t *testing.T) {
		is := is.New(t)
		pool := NewReleasePool(WithCleanupInterval(0))
		defer pool.Close()
		target := NewLockFreeTarget[string](WithReleasePool(pool))
		defer func() { is.True(recover() != nil) }()
		target.GetValue()
	})

	t.Run("被替换的值交给释放池", func(t *testing.T) {
		is := is.New(t)
		pool := NewReleasePool(WithCleanupInterval(0))
		defer pool.Close()
		target := NewLockFreeTarget[releasable](WithReleasePool(pool))

		var released atomic.Int32
		subject := NewPublishSubject[releasable]()
		subject.Subscribe(target)
		for _, name := range []string{"a", "b", "c"} {
			subject.OnNext(releasable{name: name, released: &released})
		}
		is.Equal(target.GetValue().name, "c")
		is.Equal(pool.Len(), 2)

		is.Equal(pool.Cleanup(), 0) // 第一次只标记
		is.Equal(pool.Cleanup(), 2)
		is.Equal(released.Load(), int32(2))

		subject.OnCompleted()
		is.Equal(target.GetValue().name, "c") // 终止后保留最后的值
	})

	t.Run("读写并发", func(t *testing.T) {
		is := is.New(t)
		pool := NewReleasePool(WithCleanupInterval(0))
		defer pool.Close()
		target := NewLockFreeTarget[[]int](WithReleasePool(pool))
		target.OnNext([]int{0, 0})

		var g errgroup.Group
		var stop atomic.Bool
		g.Go(func() error {
			defer stop.Store(true)
			for i := 1; i <= 2000; i++ {
				target.OnNext([]int{i, i})
				if i%100 == 0 {
					pool.Cleanup()
				}
			}
			return nil
		})
		var mu sync.Mutex
		torn := 0
		for r := 0; r < 3; r++ {
			g.Go(func() error {
				for !stop.Load() {
					v := target.GetValue()
					if v[0] != v[1] {
						mu.Lock()
						torn++
						mu.Unlock()
					}
				}
				return nil
			})
		}
		is.NoErr(g.Wait())
		is.Equal(torn, 0)
		is.Equal(target.GetValue(), []int{2000, 2000})
	})
}

func TestRegisterMetrics(t *testing.T) {
	is := is.New(t)
	reg := prometheus.NewRegistry()
	is.NoErr(RegisterMetrics(reg))
	is.NoErr(RegisterMetrics(reg)) // 重复注册不是错误

	source, _ := newManualSource[int](t, 2, "metrics")
	source.OnNext(1, DropNewest)

	families, err := reg.Gather()
	is.NoErr(err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	is.True(names["rxrt_lockfree_source_values_total"])
	is.True(names["rxrt_release_pool_pending"])
}
