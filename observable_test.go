// Observable tests for rxrt
// Observable测试：创建、过滤、失败语义
package rxrt

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matryer/is"
)

var errBoom = errors.New("boom")

func collect[T any](t *testing.T, o Observable[T]) ([]T, error) {
	t.Helper()
	r := newRecorder[T]()
	o.Subscribe(r)
	r.wait(t)
	return r.Values(), r.Err()
}

// ============================================================================
// 创建操作符
// ============================================================================

func TestCreationOperators(t *testing.T) {
	t.Run("From同步发射后完成", func(t *testing.T) {
		is := is.New(t)
		r := newRecorder[int]()
		From(1, 2, 3).Subscribe(r)
		is.Equal(r.Values(), []int{1, 2, 3})
		is.Equal(r.Completed(), 1)
	})

	t.Run("Just", func(t *testing.T) {
		is := is.New(t)
		got, err := collect(t, Just("Hello!"))
		is.NoErr(err)
		is.Equal(got, []string{"Hello!"})
	})

	t.Run("Empty和Error", func(t *testing.T) {
		is := is.New(t)
		got, err := collect(t, Empty[int]())
		is.NoErr(err)
		is.Equal(len(got), 0)

		_, err = collect(t, Error[int](errBoom))
		is.Equal(err, errBoom)
	})

	t.Run("Never不发射", func(t *testing.T) {
		is := is.New(t)
		r := newRecorder[int]()
		sub := Never[int]().Subscribe(r)
		is.True(!r.Terminated())
		sub.Dispose()
		is.True(sub.IsDisposed())
	})

	t.Run("Repeat", func(t *testing.T) {
		is := is.New(t)
		got, err := collect(t, Repeat("a", 3))
		is.NoErr(err)
		is.Equal(got, []string{"a", "a", "a"})
	})

	t.Run("RepeatForever由Take终止", func(t *testing.T) {
		is := is.New(t)
		got, err := collect(t, RepeatForever(7).Take(4))
		is.NoErr(err)
		is.Equal(got, []int{7, 7, 7, 7})
	})

	t.Run("Defer每次订阅调用工厂", func(t *testing.T) {
		is := is.New(t)
		var calls atomic.Int32
		o := Defer(func() Observable[int32] {
			return Just(calls.Add(1))
		})
		first, _ := collect(t, o)
		second, _ := collect(t, o)
		is.Equal(first, []int32{1})
		is.Equal(second, []int32{2})
	})

	t.Run("Create登记的teardown在终止时执行", func(t *testing.T) {
		is := is.New(t)
		var torn atomic.Bool
		o := Create(func(e *Emitter[string]) {
			e.Add(func() { torn.Store(true) })
			e.OnNext("x")
			e.OnCompleted()
			e.OnNext("ignored")
		})
		got, err := collect(t, o)
		is.NoErr(err)
		is.Equal(got, []string{"x"})
		is.True(torn.Load())
	})

	t.Run("FromChannel读到关闭", func(t *testing.T) {
		is := is.New(t)
		ch := make(chan int, 3)
		ch <- 1
		ch <- 2
		ch <- 3
		close(ch)
		got, err := collect(t, FromChannel(ch))
		is.NoErr(err)
		is.Equal(got, []int{1, 2, 3})
	})
}

func TestRange(t *testing.T) {
	t.Run("first大于last返回错误", func(t *testing.T) {
		is := is.New(t)
		_, err := Range(10, 9)
		is.True(errors.Is(err, ErrInvalidRange))
	})

	t.Run("NaN和无穷端点返回错误", func(t *testing.T) {
		is := is.New(t)
		_, err := RangeStep(0.0, 1.0, math.NaN())
		is.True(errors.Is(err, ErrInvalidRange))
		_, err = RangeStep(math.NaN(), 1.0, 0.5)
		is.True(errors.Is(err, ErrInvalidRange))
		_, err = RangeStep(0.0, math.NaN(), 0.5)
		is.True(errors.Is(err, ErrInvalidRange))
		_, err = RangeStep(math.Inf(-1), 0, 1)
		is.True(errors.Is(err, ErrInvalidRange))
		_, err = RangeStep(0, math.Inf(1), 1)
		is.True(errors.Is(err, ErrInvalidRange))
	})

	t.Run("无穷步长只发射两端", func(t *testing.T) {
		is := is.New(t)
		o, err := RangeStep(0.0, 5.0, math.Inf(1))
		is.NoErr(err)
		got, _ := collect(t, o)
		is.Equal(got, []float64{0, 5})
	})

	t.Run("step非正返回错误", func(t *testing.T) {
		is := is.New(t)
		_, err := RangeStep(1, 5, 0)
		is.True(errors.Is(err, ErrInvalidRange))
		_, err = RangeStep(1.0, 5.0, -0.5)
		is.True(errors.Is(err, ErrInvalidRange))
	})

	cases := []struct {
		name              string
		first, last, step int
		want              []int
	}{
		{"单个值", 10, 10, 1, []int{10}},
		{"步长1", 1, 4, 1, []int{1, 2, 3, 4}},
		{"最后一个值固定为last", 3, 7, 3, []int{3, 6, 7}},
		{"步长超过区间", 0, 2, 5, []int{0, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			o, err := RangeStep(tc.first, tc.last, tc.step)
			is.NoErr(err)
			got, err := collect(t, o)
			is.NoErr(err)
			is.Equal(got, tc.want)
		})
	}

	t.Run("浮点区间", func(t *testing.T) {
		is := is.New(t)
		o, err := RangeStep(0.0, 1.0, 0.25)
		is.NoErr(err)
		got, _ := collect(t, o)
		is.Equal(got, []float64{0, 0.25, 0.5, 0.75, 1})
	})

	t.Run("无符号整数接近上限不溢出", func(t *testing.T) {
		is := is.New(t)
		o, err := RangeStep[uint8](250, 255, 4)
		is.NoErr(err)
		got, _ := collect(t, o)
		is.Equal(got, []uint8{250, 254, 255})
	})
}

// ============================================================================
// 过滤操作符
// ============================================================================

func TestFilteringOperators(t *testing.T) {
	t.Run("Filter", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From(1, 2, 3, 4, 5, 6).Filter(func(v int) bool { return v%2 == 0 }))
		is.Equal(got, []int{2, 4, 6})
	})

	t.Run("Skip和Take", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From(1, 2, 3, 4, 5).Skip(1).Take(3))
		is.Equal(got, []int{2, 3, 4})

		got, _ = collect(t, From(1, 2).Take(0))
		is.Equal(len(got), 0)
	})

	t.Run("TakeLast", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From(1, 2, 3, 4, 5).TakeLast(2))
		is.Equal(got, []int{4, 5})
	})

	t.Run("TakeWhile", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From(1, 2, 3, 1).TakeWhile(func(v int) bool { return v < 3 }))
		is.Equal(got, []int{1, 2})
	})

	t.Run("ElementAt", func(t *testing.T) {
		is := is.New(t)
		got, err := collect(t, From("a", "b", "c").ElementAt(1))
		is.NoErr(err)
		is.Equal(got, []string{"b"})

		_, err = collect(t, From("a").ElementAt(3))
		is.True(errors.Is(err, ErrElementNotFound))
	})

	t.Run("DistinctUntilChanged按值相等压缩相邻重复", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From[any](3, 3, "3", 3, 3, 5, 3).DistinctUntilChanged())
		is.Equal(got, []any{3, 5, 3})
	})

	t.Run("TakeUntil", func(t *testing.T) {
		is := is.New(t)
		src := NewPublishSubject[int]()
		stop := NewPublishSubject[string]()
		r := newRecorder[int]()
		src.TakeUntil(stop).Subscribe(r)

		src.OnNext(1)
		src.OnNext(2)
		stop.OnNext("stop")
		src.OnNext(3)

		is.Equal(r.Values(), []int{1, 2})
		is.Equal(r.Completed(), 1)
		is.True(!src.HasObservers())
		is.True(!stop.HasObservers())
	})

	t.Run("SkipUntil的开关在其他goroutine发射", func(t *testing.T) {
		is := is.New(t)
		for i := 0; i < 50; i++ {
			opened := make(chan struct{})
			var gateDone atomic.Bool
			gate := Create(func(e *Emitter[bool]) {
				go func() {
					e.OnNext(true)
					gateDone.Store(e.IsDisposed())
					close(opened)
				}()
			})
			src := NewPublishSubject[int]()
			r := newRecorder[int]()
			src.SkipUntil(gate).Subscribe(r)

			<-opened
			src.OnNext(i)
			src.OnCompleted()
			is.Equal(r.Values(), []int{i})
			is.True(gateDone.Load()) // 开关发射后即取消订阅
		}
	})

	t.Run("SkipUntil", func(t *testing.T) {
		is := is.New(t)
		src := NewPublishSubject[int]()
		gate := NewPublishSubject[bool]()
		r := newRecorder[int]()
		src.SkipUntil(gate).Subscribe(r)

		src.OnNext(1)
		gate.OnNext(true)
		src.OnNext(2)
		src.OnNext(3)
		src.OnCompleted()

		is.Equal(r.Values(), []int{2, 3})
		is.Equal(r.Completed(), 1)
		is.True(!gate.HasObservers())
	})
}

// ============================================================================
// 失败语义
// ============================================================================

func TestFailureSemantics(t *testing.T) {
	t.Run("重复的完成事件只投递一次", func(t *testing.T) {
		is := is.New(t)
		r := newRecorder[int]()
		Create(func(e *Emitter[int]) {
			e.OnNext(1)
			e.OnCompleted()
			e.OnCompleted()
			e.OnError(errBoom)
		}).Subscribe(r)
		is.Equal(r.Values(), []int{1})
		is.Equal(r.Completed(), 1)
		is.NoErr(r.Err())
	})

	t.Run("回调panic转为ErrCallbackPanic", func(t *testing.T) {
		is := is.New(t)
		_, err := collect(t, From(1, 2).Filter(func(int) bool { panic("bad predicate") }))
		is.True(errors.Is(err, ErrCallbackPanic))
	})

	t.Run("订阅例程panic转为错误", func(t *testing.T) {
		is := is.New(t)
		_, err := collect(t, Create(func(*Emitter[int]) { panic("bad source") }))
		is.True(errors.Is(err, ErrCallbackPanic))
	})

	t.Run("Map返回的错误终止流", func(t *testing.T) {
		is := is.New(t)
		got, err := collect(t, Map(From(1, 2, 3), func(v int) (int, error) {
			if v == 2 {
				return 0, errBoom
			}
			return v * 10, nil
		}))
		is.Equal(got, []int{10})
		is.Equal(err, errBoom)
	})

	t.Run("类型不匹配转为错误", func(t *testing.T) {
		is := is.New(t)
		mixed := From[any](1, "two")
		_, err := collect(t, Observable[int]{src: mixed.src})
		is.True(errors.Is(err, ErrTypeMismatch))
	})

	t.Run("没有onError时交给未处理错误处理函数", func(t *testing.T) {
		is := is.New(t)
		unhandled := captureUnhandled(t)
		Error[int](errBoom).SubscribeWithCallbacks(nil, nil, nil)
		is.Equal(unhandled(), []error{errBoom})
	})
}

// ============================================================================
// 其他操作符
// ============================================================================

func TestUtilityOperators(t *testing.T) {
	t.Run("Scan和Reduce", func(t *testing.T) {
		is := is.New(t)
		sum := func(acc, v int) (int, error) { return acc + v, nil }
		got, _ := collect(t, Scan(From(1, 2, 3), 0, sum))
		is.Equal(got, []int{1, 3, 6})
		got, _ = collect(t, Reduce(From(1, 2, 3), 10, sum))
		is.Equal(got, []int{16})
	})

	t.Run("Count", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From("a", "b").Count())
		is.Equal(got, []int{2})
	})

	t.Run("StartWith", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, From(3, 4).StartWith(1, 2))
		is.Equal(got, []int{1, 2, 3, 4})
	})

	t.Run("StartWith超过参数上限panic", func(t *testing.T) {
		is := is.New(t)
		defer func() { is.True(recover() != nil) }()
		From(0).StartWith(1, 2, 3, 4, 5, 6, 7, 8, 9)
	})

	t.Run("DefaultIfEmpty和SwitchIfEmpty", func(t *testing.T) {
		is := is.New(t)
		got, _ := collect(t, Empty[int]().DefaultIfEmpty(42))
		is.Equal(got, []int{42})
		got, _ = collect(t, Empty[int]().SwitchIfEmpty(From(7, 8)))
		is.Equal(got, []int{7, 8})
		got, _ = collect(t, From(1).SwitchIfEmpty(From(7, 8)))
		is.Equal(got, []int{1})
	})

	t.Run("DoOnNext和DoFinally", func(t *testing.T) {
		is := is.New(t)
		var seen []int
		var finished atomic.Int32
		got, _ := collect(t, From(1, 2).
			DoOnNext(func(v int) { seen = append(seen, v) }).
			DoFinally(func() { finished.Add(1) }))
		is.Equal(got, []int{1, 2})
		is.Equal(seen, []int{1, 2})
		is.Equal(finished.Load(), int32(1))
	})

	t.Run("Catch和OnErrorReturn", func(t *testing.T) {
		is := is.New(t)
		failing := Concat(From(1), Error[int](errBoom))
		got, err := collect(t, failing.Catch(func(error) Observable[int] { return From(9) }))
		is.NoErr(err)
		is.Equal(got, []int{1, 9})

		got, err = collect(t, failing.OnErrorReturn(-1))
		is.NoErr(err)
		is.Equal(got, []int{1, -1})
	})

	t.Run("Retry重新订阅", func(t *testing.T) {
		is := is.New(t)
		var attempts atomic.Int32
		flaky := Defer(func() Observable[int32] {
			n := attempts.Add(1)
			if n < 3 {
				return Error[int32](errBoom)
			}
			return Just(n)
		})
		got, err := collect(t, flaky.Retry(5))
		is.NoErr(err)
		is.Equal(got, []int32{3})

		attempts.Store(0)
		_, err = collect(t, flaky.Retry(1))
		is.Equal(err, errBoom)
	})

	t.Run("ToSlice", func(t *testing.T) {
		is := is.New(t)
		got, err := Map(From(1, 2, 3), func(v int) (string, error) {
			return string(rune('a' + v - 1)), nil
		}).ToSlice(context.Background())
		is.NoErr(err)
		if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
			t.Errorf("ToSlice (-want +got):\n%s", diff)
		}

		first, err := From(5, 6).First(context.Background())
		is.NoErr(err)
		is.Equal(first, 5)
	})

	t.Run("ToSlice在ctx取消时返回", func(t *testing.T) {
		is := is.New(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Never[int]().ToSlice(ctx)
		is.True(errors.Is(err, context.Canceled))
	})
}
