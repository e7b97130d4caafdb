package lepus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Extension types for values msgpack has no native form for.
const (
	extUndefined int8 = 1
	extDate      int8 = 2
	extRegExp    int8 = 3
)

// EncodeValue writes v as msgpack. Engine values are collapsed first;
// closures, functions and pointers are written as nil. Table key order is
// preserved.
func EncodeValue(w io.Writer, v Value) error {
	n := v.ToLepusValue(CopyDeepClone)
	defer n.Free()
	enc := msgpack.NewEncoder(w)
	return encodeValue(enc, n)
}

// MarshalValue is EncodeValue into a byte slice.
func MarshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.tag {
	case TagUndefined:
		return enc.EncodeExtHeader(extUndefined, 0)
	case TagBool:
		return enc.EncodeBool(v.Bool())
	case TagInt32, TagInt64:
		return enc.EncodeInt(v.Int64())
	case TagUInt32, TagUInt64:
		return enc.EncodeUint(v.UInt64())
	case TagDouble:
		return enc.EncodeFloat64(v.Number())
	case TagNaN:
		return enc.EncodeFloat64(math.NaN())
	case TagString:
		return enc.EncodeString(v.str)
	case TagByteArray:
		if b := v.ByteArray(); b != nil {
			return enc.EncodeBytes(b.Bytes())
		}
	case TagArray:
		a := v.Array()
		if a == nil {
			return enc.EncodeArrayLen(0)
		}
		if err := enc.EncodeArrayLen(len(a.vec)); err != nil {
			return err
		}
		for _, e := range a.vec {
			if err := encodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case TagTable:
		t := v.Table()
		if t == nil {
			return enc.EncodeMapLen(0)
		}
		if err := enc.EncodeMapLen(len(t.keys)); err != nil {
			return err
		}
		for i, k := range t.keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := encodeValue(enc, t.vals[i]); err != nil {
				return err
			}
		}
		return nil
	case TagCDate:
		if d := v.CDate(); d != nil {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(d.Time().UnixMilli()))
			return encodeExt(enc, extDate, buf[:])
		}
	case TagRegExp:
		if r := v.RegExp(); r != nil {
			return encodeExt(enc, extRegExp, []byte(r.Pattern()+"\x00"+r.Flags()))
		}
	}
	return enc.EncodeNil()
}

func encodeExt(enc *msgpack.Encoder, id int8, payload []byte) error {
	if err := enc.EncodeExtHeader(id, len(payload)); err != nil {
		return err
	}
	_, err := enc.Writer().Write(payload)
	return err
}

// DecodeValue reads one value written by EncodeValue or any msgpack
// producer. Maps become tables with string keys in wire order. The Value
// is owned.
func DecodeValue(r io.Reader) (Value, error) {
	dec := msgpack.NewDecoder(r)
	v, err := decodeValue(dec)
	if err != nil {
		return Nil(), fmt.Errorf("lepus: decode value: %w", err)
	}
	return v, nil
}

// UnmarshalValue is DecodeValue from a byte slice.
func UnmarshalValue(data []byte) (Value, error) {
	return DecodeValue(bytes.NewReader(data))
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return Nil(), err
	}
	switch {
	case c == msgpcode.Nil:
		return Nil(), dec.DecodeNil()
	case c == msgpcode.False || c == msgpcode.True:
		b, err := dec.DecodeBool()
		return NewBool(b), err
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		return NewDouble(f), err
	case c == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		if err != nil {
			return Nil(), err
		}
		if u > math.MaxInt64 {
			return NewUInt64(u), nil
		}
		return intValue(int64(u)), nil
	case msgpcode.IsFixedNum(c) || isIntCode(c):
		i, err := dec.DecodeInt64()
		return intValue(i), err
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		return NewString(s), err
	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return Nil(), err
		}
		return NewByteArrayValue(NewByteArray(b)), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return decodeArray(dec)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return decodeTable(dec)
	case msgpcode.IsExt(c):
		return decodeExt(dec)
	}
	return Nil(), fmt.Errorf("unexpected code %x", c)
}

func isIntCode(c byte) bool {
	switch c {
	case msgpcode.Int8, msgpcode.Int16, msgpcode.Int32, msgpcode.Int64,
		msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32:
		return true
	}
	return false
}

func intValue(i int64) Value {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return NewInt32(int32(i))
	}
	return NewInt64(i)
}

func decodeArray(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Nil(), err
	}
	if n < 0 {
		return Nil(), nil
	}
	arr := NewArray()
	out := NewArrayValue(arr)
	for range n {
		e, err := decodeValue(dec)
		if err != nil {
			out.Free()
			return Nil(), err
		}
		arr.PushBack(e)
	}
	return out, nil
}

func decodeTable(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return Nil(), err
	}
	if n < 0 {
		return Nil(), nil
	}
	tbl := NewTable()
	out := NewTableValue(tbl)
	for range n {
		k, err := dec.DecodeString()
		if err != nil {
			out.Free()
			return Nil(), err
		}
		e, err := decodeValue(dec)
		if err != nil {
			out.Free()
			return Nil(), err
		}
		tbl.SetValue(k, e)
	}
	return out, nil
}

func decodeExt(dec *msgpack.Decoder) (Value, error) {
	id, n, err := dec.DecodeExtHeader()
	if err != nil {
		return Nil(), err
	}
	payload := make([]byte, n)
	if err := dec.ReadFull(payload); err != nil {
		return Nil(), err
	}
	switch id {
	case extUndefined:
		return Undefined(), nil
	case extDate:
		if n != 8 {
			return Nil(), fmt.Errorf("date extension of %d bytes", n)
		}
		ms := int64(binary.BigEndian.Uint64(payload))
		return FromRef(NewCDate(time.UnixMilli(ms))), nil
	case extRegExp:
		pattern, flags, _ := strings.Cut(string(payload), "\x00")
		return FromRef(NewRegExp(pattern, flags)), nil
	}
	return Nil(), nil
}
