// Bounded lock-free queue for rxrt
// 有界多生产者多消费者环形队列，每个槽位带序号
package rxrt

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type queueSlot[T any] struct {
	seq   atomic.Uint64
	value T
}

// boundedQueue 容量为2的幂的MPMC环形队列。
// 槽位序号等于下标时可写，等于下标+1时可读。
type boundedQueue[T any] struct {
	_     cpu.CacheLinePad
	head  atomic.Uint64 // 下一个出队位置
	_     cpu.CacheLinePad
	tail  atomic.Uint64 // 下一个入队位置
	_     cpu.CacheLinePad
	mask  uint64
	slots []queueSlot[T]
}

// roundCapacity 向上取2的幂，至少为2
func roundCapacity(capacity int) int {
	if capacity <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(capacity-1))
}

func newBoundedQueue[T any](capacity int) *boundedQueue[T] {
	n := roundCapacity(capacity)
	q := &boundedQueue[T]{
		mask:  uint64(n - 1),
		slots: make([]queueSlot[T], n),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Cap 实际容量
func (q *boundedQueue[T]) Cap() int { return len(q.slots) }

// Len 近似长度，并发修改时只作参考
func (q *boundedQueue[T]) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// TryEnqueue 队列满时返回false
func (q *boundedQueue[T]) TryEnqueue(v T) bool {
	pos := q.tail.Load()
	for {
		slot := &q.slots[pos&q.mask]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				slot.value = v
				slot.seq.Store(pos + 1)
				return true
			}
			pos = q.tail.Load()
		case diff < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// TryDequeue 队列空时返回false
func (q *boundedQueue[T]) TryDequeue() (T, bool) {
	var zero T
	pos := q.head.Load()
	for {
		slot := &q.slots[pos&q.mask]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := slot.value
				slot.value = zero
				slot.seq.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.head.Load()
		case diff < 0:
			return zero, false
		default:
			pos = q.head.Load()
		}
	}
}
