// Lock-free target for rxrt
// 无锁目标：非实时线程写入，实时线程无锁读取最新值
package rxrt

import (
	"reflect"
	"sync/atomic"
	"unsafe"
)

// targetCell 非标量值的存储，被替换后交给释放池，等没有读者时才释放
type targetCell[T any] struct {
	value   T
	readers atomic.Int32
}

func (c *targetCell[T]) activeReaders() int32 { return c.readers.Load() }
func (c *targetCell[T]) payload() any         { return c.value }

// LockFreeTarget 作为Observer订阅任意Observable，只保留最新值。
// 不超过8字节的布尔、整数、浮点类型存放在一个原子字中；
// 其他类型存放在带读者计数的cell中，旧cell由ReleasePool回收。
type LockFreeTarget[T any] struct {
	scalar bool
	bits   atomic.Uint64
	has    atomic.Bool
	cell   atomic.Pointer[targetCell[T]]
	pool   *ReleasePool
}

// NewLockFreeTarget 创建目标，可用WithReleasePool指定释放池，默认使用DefaultReleasePool
func NewLockFreeTarget[T any](opts ...Option) *LockFreeTarget[T] {
	t := &LockFreeTarget[T]{scalar: isScalar[T]()}
	if !t.scalar {
		t.pool = newConfig(opts).ReleasePool
		if t.pool == nil {
			t.pool = DefaultReleasePool()
		}
	}
	return t
}

func isScalar[T any]() bool {
	typ := reflect.TypeFor[T]()
	if typ.Size() > 8 {
		return false
	}
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// toBits 把不超过8字节的标量按位放进uint64
func toBits[T any](v T) uint64 {
	var b uint64
	*(*T)(unsafe.Pointer(&b)) = v
	return b
}

func fromBits[T any](b uint64) T {
	return *(*T)(unsafe.Pointer(&b))
}

// OnNext 发布新值
func (t *LockFreeTarget[T]) OnNext(value T) {
	if t.scalar {
		t.bits.Store(toBits(value))
		t.has.Store(true)
		return
	}
	if old := t.cell.Swap(&targetCell[T]{value: value}); old != nil {
		t.pool.Add(old)
	}
	t.has.Store(true)
}

// OnError 目标保留最后的值，错误被忽略
func (t *LockFreeTarget[T]) OnError(error) {}

// OnCompleted 目标保留最后的值
func (t *LockFreeTarget[T]) OnCompleted() {}

// HasValue 是否收到过值
func (t *LockFreeTarget[T]) HasValue() bool {
	return t.has.Load()
}

// GetValue 读取最新值，不加锁、不分配内存。
// 标量类型在收到值之前返回零值；非标量类型在收到值之前调用会panic。
func (t *LockFreeTarget[T]) GetValue() T {
	if t.scalar {
		return fromBits[T](t.bits.Load())
	}
	for {
		c := t.cell.Load()
		if c == nil {
			panic("rxrt: GetValue on an empty LockFreeTarget")
		}
		c.readers.Add(1)
		// 加读者计数之后cell仍是当前值，释放池就不会回收它
		if t.cell.Load() == c {
			v := c.value
			c.readers.Add(-1)
			return v
		}
		c.readers.Add(-1)
	}
}
