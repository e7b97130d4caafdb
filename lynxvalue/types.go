package lynxvalue

import "fmt"

// Status is the result code of every operation.
type Status int32

const (
	StatusOK Status = iota
	StatusInvalidArg
	StatusFailed
	StatusBoolExpected
	StatusDoubleExpected
	StatusInt32Expected
	StatusUInt32Expected
	StatusInt64Expected
	StatusUInt64Expected
	StatusStringExpected
	StatusExternalExpected
	StatusArrayExpected
	StatusNotSupport
)

var statusNames = [...]string{
	StatusOK:               "ok",
	StatusInvalidArg:       "invalid_arg",
	StatusFailed:           "failed",
	StatusBoolExpected:     "bool_expected",
	StatusDoubleExpected:   "double_expected",
	StatusInt32Expected:    "int32_expected",
	StatusUInt32Expected:   "uint32_expected",
	StatusInt64Expected:    "int64_expected",
	StatusUInt64Expected:   "uint64_expected",
	StatusStringExpected:   "string_expected",
	StatusExternalExpected: "external_expected",
	StatusArrayExpected:    "array_expected",
	StatusNotSupport:       "not_support",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Type is the discriminator returned by Typeof.
type Type int32

const (
	TypeNull Type = iota
	TypeUndefined
	TypeBool
	TypeDouble
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeNaN
	TypeString
	TypeArray
	TypeMap
	TypeArrayBuffer
	TypeObject
	TypeFunction
	TypeFunctionTable
	TypeExternal
)

var typeNames = [...]string{
	TypeNull:          "null",
	TypeUndefined:     "undefined",
	TypeBool:          "bool",
	TypeDouble:        "double",
	TypeInt32:         "int32",
	TypeUInt32:        "uint32",
	TypeInt64:         "int64",
	TypeUInt64:        "uint64",
	TypeNaN:           "nan",
	TypeString:        "string",
	TypeArray:         "array",
	TypeMap:           "map",
	TypeArrayBuffer:   "arraybuffer",
	TypeObject:        "object",
	TypeFunction:      "function",
	TypeFunctionTable: "function_table",
	TypeExternal:      "external",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int32(t))
}

// Ref identifies a reference created by CreateReference. Zero is no
// reference.
type Ref uint32

// IsNull reports whether r is the zero reference.
func (r Ref) IsNull() bool { return r == 0 }

func (r Ref) String() string { return fmt.Sprintf("Ref(%d)", uint32(r)) }

// Handle identifies a value held by a Host on behalf of a guest.
type Handle int32

// IsNull reports whether the handle is null (zero).
func (h Handle) IsNull() bool { return h == 0 }

func (h Handle) String() string { return fmt.Sprintf("Handle(%d)", int32(h)) }

// MemoryPtr is an offset into guest linear memory.
type MemoryPtr int32

// IsNull reports whether the pointer is null (zero).
func (p MemoryPtr) IsNull() bool { return p == 0 }

func (p MemoryPtr) String() string { return fmt.Sprintf("MemoryPtr(0x%x)", int32(p)) }
