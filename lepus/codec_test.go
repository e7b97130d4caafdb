package lepus

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestCodecRoundTrip(t *testing.T) {
	v := newSample()
	defer v.Free()
	v.Table().SetValue("undef", Undefined())
	v.Table().SetValue("big", NewUInt64(math.MaxUint64))
	v.Table().SetValue("neg", NewInt64(-1<<40))

	data, err := MarshalValue(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	defer got.Free()

	if !got.Equal(v) {
		t.Errorf("round trip changed the value: got %v", got)
	}
	keys := got.Table().Keys()
	want := v.Table().Keys()
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got key order %v, want %v", keys, want)
		}
	}
	when := got.Table().GetValue("when").CDate()
	if when == nil || !when.Time().Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("date did not survive: %v", when)
	}
	if !got.Table().GetValue("undef").IsUndefined() {
		t.Errorf("undefined became %s", got.Table().GetValue("undef").Type())
	}
}

func TestCodecUnencodable(t *testing.T) {
	v := NewArrayValue(NewArray(FromRef(NewClosure("f", nil)), NewInt32(1)))
	defer v.Free()
	data, err := MarshalValue(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	defer got.Free()
	if !got.Array().Get(0).IsNil() {
		t.Errorf("closure encoded as %s, want nil", got.Array().Get(0).Type())
	}
}

func TestDecodeForeignMsgpack(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"n": 3, "s": []any{"x", 2.5, nil}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	v, err := DecodeValue(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer v.Free()
	if got := v.Table().GetValue("n"); got.Type() != TagInt32 || got.Int64() != 3 {
		t.Errorf("got n=%v (%s), want Int32 3", got, got.Type())
	}
	s := v.Table().GetValue("s").Array()
	if s == nil || s.Size() != 3 {
		t.Fatalf("got s=%v", v.Table().GetValue("s"))
	}
	if got := s.Get(1).Number(); got != 2.5 {
		t.Errorf("got %v, want 2.5", got)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, _ := MarshalValue(NewString("hello"))
	if _, err := UnmarshalValue(data[:2]); err == nil {
		t.Errorf("decoded a truncated payload")
	}
}

func TestCodecEngineValue(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	v := eval(t, qc, "({a: [1, 2], b: 'x'})")
	defer v.Free()
	data, err := MarshalValue(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	defer got.Free()
	if !got.Equal(v) {
		t.Errorf("got %v, want the engine object's contents", got)
	}
}
