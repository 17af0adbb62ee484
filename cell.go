// Observable mutable cell for rxrt
// 可变单元：Get/Set与监听，FromCell把它转换为Observable
package rxrt

import "sync"

type cellListener[T any] struct {
	id uint64
	fn func(T)
}

// Cell 可变值容器。Set按调用顺序通知监听者，监听者在Set的goroutine中执行。
type Cell[T any] struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	value     T
	nextID    uint64
	listeners []cellListener[T]
}

// NewCell 创建带初始值的Cell
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get 当前值
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set 设置新值并通知所有监听者。并发的Set依次通知，监听者中不能再调用Set。
func (c *Cell[T]) Set(value T) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.value = value
	listeners := make([]cellListener[T], len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(value)
	}
}

// AddListener 登记监听者，返回取消登记的函数
func (c *Cell[T]) AddListener(fn func(T)) (remove func()) {
	_, remove = c.observe(fn)
	return remove
}

// observe 原子地取得当前值并登记监听者，之后的每次Set都会通知到
func (c *Cell[T]) observe(fn func(T)) (current T, remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, cellListener[T]{id: id, fn: fn})
	return c.value, func() { c.removeListener(id) }
}

func (c *Cell[T]) removeListener(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// ============================================================================
// CellObservable
// ============================================================================

// CellObservable 跟随Cell的热Observable：订阅时收到当前值，之后收到每次Set。
// 所有订阅者共享同一个发射源，Close后全部完成。
type CellObservable[T any] struct {
	Observable[T]
	subject *BehaviorSubject[T]
	once    sync.Once
	remove  func()
}

// FromCell 从Cell创建Observable
func FromCell[T any](cell *Cell[T]) *CellObservable[T] {
	o := &CellObservable[T]{}
	var current T
	// 登记时的当前值和后续Set之间没有空隙
	cell.notifyMu.Lock()
	current, o.remove = cell.observe(func(v T) { o.subject.OnNext(v) })
	o.subject = NewBehaviorSubject(current)
	cell.notifyMu.Unlock()
	o.Observable = o.subject.Observable
	return o
}

// Close 停止跟随Cell并完成所有订阅者
func (o *CellObservable[T]) Close() {
	o.once.Do(func() {
		o.remove()
		o.subject.OnCompleted()
	})
}
