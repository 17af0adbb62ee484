// Error taxonomy for rxrt
// 错误分类：类型不匹配、非法区间、回调panic
package rxrt

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTypeMismatch Value.Get 请求的类型与存储的类型不一致
	ErrTypeMismatch = errors.New("rxrt: type mismatch")

	// ErrInvalidRange Range 参数非法（first > last 或 step <= 0）
	ErrInvalidRange = errors.New("rxrt: invalid range")

	// ErrCallbackPanic 用户回调发生panic，已转换为 OnError 事件
	ErrCallbackPanic = errors.New("rxrt: callback panicked")

	// ErrElementNotFound ElementAt 的源在到达索引前完成
	ErrElementNotFound = errors.New("rxrt: element not found")
)

// TypeMismatchError 描述请求类型与实际类型
type TypeMismatchError struct {
	Requested string
	Actual    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("rxrt: type mismatch: requested %s, actual %s", e.Requested, e.Actual)
}

// Is 使 errors.Is(err, ErrTypeMismatch) 成立
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

func invalidRange(first, last, step any) error {
	return errors.Wrapf(ErrInvalidRange, "first=%v last=%v step=%v", first, last, step)
}

// recoveredError 把recover()得到的值包装成 ErrCallbackPanic
func recoveredError(op string, r any) error {
	if err, ok := r.(error); ok {
		return errors.Wrapf(ErrCallbackPanic, "%s: %v", op, err)
	}
	return errors.Wrapf(ErrCallbackPanic, "%s: %v", op, r)
}

// safeInvoke 执行用户回调，panic转换为错误
func safeInvoke(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(op, r)
		}
	}()
	return fn()
}

func invalidIndex(index int) error {
	return errors.Wrapf(ErrElementNotFound, "index=%d", index)
}
