// Dynamic value container for rxrt
// 类型擦除的动态值：标量内联存储，对象存放在共享、不可变的cell中
package rxrt

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Kind 动态值的标签
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindInt64
	KindBool
	KindFloat
	KindDouble
	KindEnum
	KindPointer
	KindObject
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt:     "int",
	KindInt64:   "int64",
	KindBool:    "bool",
	KindFloat:   "float",
	KindDouble:  "double",
	KindEnum:    "enum",
	KindPointer: "pointer",
	KindObject:  "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// IsArithmetic 算术标签之间可以相互转换
func (k Kind) IsArithmetic() bool {
	return k >= KindInt && k <= KindDouble
}

func (k Kind) isIntegral() bool {
	return k == KindInt || k == KindInt64 || k == KindBool
}

// numType 记录算术值原始的Go类型，Interface()据此还原
type numType uint8

const (
	numNone numType = iota
	numBool
	numInt
	numInt8
	numInt16
	numInt32
	numInt64
	numUint
	numUint8
	numUint16
	numUint32
	numUint64
	numUintptr
	numFloat32
	numFloat64
)

var numTypeNames = [...]string{
	numNone:    "",
	numBool:    "bool",
	numInt:     "int",
	numInt8:    "int8",
	numInt16:   "int16",
	numInt32:   "int32",
	numInt64:   "int64",
	numUint:    "uint",
	numUint8:   "uint8",
	numUint16:  "uint16",
	numUint32:  "uint32",
	numUint64:  "uint64",
	numUintptr: "uintptr",
	numFloat32: "float32",
	numFloat64: "float64",
}

// objectCell 对象的共享存储，构造后不可变
type objectCell struct {
	value any
	typ   reflect.Type
}

// Value 动态值。复制Value只复制标量或cell指针，不会复制对象本身。
// 零值表示"无值"(KindInvalid)。
type Value struct {
	kind Kind
	num  numType
	bits uint64 // int64补码或float64位模式
	ref  any    // enum/pointer 原值
	cell *objectCell
}

// ValueOf 根据x的类型选择存储分支
func ValueOf(x any) Value {
	switch v := x.(type) {
	case nil:
		return Value{}
	case Value:
		return v
	case bool:
		var b uint64
		if v {
			b = 1
		}
		return Value{kind: KindBool, num: numBool, bits: b}
	case int:
		return intValue(KindInt64, numInt, int64(v))
	case int8:
		return intValue(KindInt, numInt8, int64(v))
	case int16:
		return intValue(KindInt, numInt16, int64(v))
	case int32:
		return intValue(KindInt, numInt32, int64(v))
	case int64:
		return intValue(KindInt64, numInt64, v)
	case uint:
		return intValue(KindInt64, numUint, int64(v))
	case uint8:
		return intValue(KindInt, numUint8, int64(v))
	case uint16:
		return intValue(KindInt, numUint16, int64(v))
	case uint32:
		return intValue(KindInt64, numUint32, int64(v))
	case uint64:
		return intValue(KindInt64, numUint64, int64(v))
	case uintptr:
		return intValue(KindInt64, numUintptr, int64(v))
	case float32:
		return Value{kind: KindFloat, num: numFloat32, bits: math.Float64bits(float64(v))}
	case float64:
		return Value{kind: KindDouble, num: numFloat64, bits: math.Float64bits(v)}
	case unsafe.Pointer:
		return Value{kind: KindPointer, ref: v}
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Value{kind: KindEnum, bits: uint64(rv.Int()), ref: x}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Value{kind: KindEnum, bits: rv.Uint(), ref: x}
	case reflect.Pointer, reflect.UnsafePointer:
		return Value{kind: KindPointer, ref: x}
	}
	return Value{kind: KindObject, cell: &objectCell{value: x, typ: rv.Type()}}
}

func intValue(kind Kind, num numType, n int64) Value {
	return Value{kind: kind, num: num, bits: uint64(n)}
}

// Kind 返回标签
func (v Value) Kind() Kind { return v.kind }

// IsValid 是否持有值
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) int() int64 { return int64(v.bits) }

func (v Value) float() float64 {
	if v.kind == KindFloat || v.kind == KindDouble {
		return math.Float64frombits(v.bits)
	}
	return float64(v.int())
}

// Interface 以原始Go类型返回负载
func (v Value) Interface() any {
	switch v.kind {
	case KindInvalid:
		return nil
	case KindEnum, KindPointer:
		return v.ref
	case KindObject:
		return v.cell.value
	}
	switch v.num {
	case numBool:
		return v.bits != 0
	case numInt:
		return int(v.int())
	case numInt8:
		return int8(v.int())
	case numInt16:
		return int16(v.int())
	case numInt32:
		return int32(v.int())
	case numInt64:
		return v.int()
	case numUint:
		return uint(v.bits)
	case numUint8:
		return uint8(v.bits)
	case numUint16:
		return uint16(v.bits)
	case numUint32:
		return uint32(v.bits)
	case numUint64:
		return v.bits
	case numUintptr:
		return uintptr(v.bits)
	case numFloat32:
		return float32(v.float())
	default:
		return v.float()
	}
}

// TypeName 负载类型的可读名称
func (v Value) TypeName() string {
	switch v.kind {
	case KindInvalid:
		return "<invalid>"
	case KindEnum, KindPointer:
		return reflect.TypeOf(v.ref).String()
	case KindObject:
		return v.cell.typ.String()
	}
	return numTypeNames[v.num]
}

func (v Value) String() string {
	if v.kind == KindInvalid {
		return "<invalid>"
	}
	return fmt.Sprint(v.Interface())
}

// Equal 值相等：算术值按转换后比较；枚举比较类型和序号；指针比较地址；
// 对象要求动态类型一致，可比较类型用==，否则比较cell身份。
// 能解析为数字的字符串与算术值按数值比较。
func (v Value) Equal(o Value) bool {
	switch {
	case v.kind.IsArithmetic() && o.kind.IsArithmetic():
		if v.kind.isIntegral() && o.kind.isIntegral() {
			return v.int() == o.int()
		}
		return v.float() == o.float()
	case v.kind.IsArithmetic() && o.kind == KindObject:
		return numericStringEqual(o, v)
	case v.kind == KindObject && o.kind.IsArithmetic():
		return numericStringEqual(v, o)
	case v.kind != o.kind:
		return false
	}

	switch v.kind {
	case KindInvalid:
		return true
	case KindEnum, KindPointer:
		return v.ref == o.ref
	}

	if v.cell == o.cell {
		return true
	}
	if v.cell.typ != o.cell.typ || !v.cell.typ.Comparable() {
		return false
	}
	return comparableEqual(v.cell.value, o.cell.value)
}

// comparableEqual 包含interface字段的结构体在运行时仍可能不可比较
func comparableEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

func numericStringEqual(obj, num Value) bool {
	s, ok := obj.cell.value.(string)
	if !ok {
		return false
	}
	if num.kind.isIntegral() {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n == num.int()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == num.float()
}

// Is 判断v能否以T取出
func Is[T any](v Value) bool {
	_, ok := get[T](v)
	return ok
}

// Get 以T取出值。算术类型之间按Go转换规则强制转换；
// 枚举、指针、对象要求类型完全一致。
func Get[T any](v Value) (T, error) {
	out, ok := get[T](v)
	if !ok {
		return out, &TypeMismatchError{
			Requested: reflect.TypeFor[T]().String(),
			Actual:    v.TypeName(),
		}
	}
	return out, nil
}

// MustGet 同Get，类型不匹配时panic
func MustGet[T any](v Value) T {
	out, err := Get[T](v)
	if err != nil {
		panic(err)
	}
	return out
}

func get[T any](v Value) (out T, ok bool) {
	if p, isValue := any(&out).(*Value); isValue {
		*p = v
		return out, true
	}

	switch v.kind {
	case KindInvalid:
		// 只有接口类型的T可以承载nil
		return out, any(out) == nil
	case KindEnum, KindPointer:
		out, ok = v.ref.(T)
		return out, ok
	case KindObject:
		out, ok = v.cell.value.(T)
		return out, ok
	}

	if coerce(v, &out) {
		return out, true
	}
	out, ok = v.Interface().(T)
	return out, ok
}

// coerce 算术值转换到预声明的算术类型
func coerce[T any](v Value, out *T) bool {
	switch p := any(out).(type) {
	case *bool:
		if v.kind == KindFloat || v.kind == KindDouble {
			*p = v.float() != 0
		} else {
			*p = v.bits != 0
		}
	case *int:
		*p = castNumber[int](v)
	case *int8:
		*p = castNumber[int8](v)
	case *int16:
		*p = castNumber[int16](v)
	case *int32:
		*p = castNumber[int32](v)
	case *int64:
		*p = castNumber[int64](v)
	case *uint:
		*p = castNumber[uint](v)
	case *uint8:
		*p = castNumber[uint8](v)
	case *uint16:
		*p = castNumber[uint16](v)
	case *uint32:
		*p = castNumber[uint32](v)
	case *uint64:
		*p = castNumber[uint64](v)
	case *uintptr:
		*p = castNumber[uintptr](v)
	case *float32:
		*p = castNumber[float32](v)
	case *float64:
		*p = castNumber[float64](v)
	default:
		return false
	}
	return true
}

func castNumber[N constraints.Integer | constraints.Float](v Value) N {
	if v.kind == KindFloat || v.kind == KindDouble {
		return N(v.float())
	}
	return N(v.int())
}
