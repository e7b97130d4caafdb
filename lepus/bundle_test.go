package lepus

import (
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestBundleMarshalRoundTrip(t *testing.T) {
	b := NewQuickContextBundle("app.js", []byte("var a = 1;"))
	b.SourceMap = []byte(`{"version":3}`)
	data, err := MarshalBundle(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalBundle(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.FileName != b.FileName || string(got.Source) != string(b.Source) || string(got.SourceMap) != string(b.SourceMap) {
		t.Errorf("got %+v, want %+v", got, b)
	}
}

func TestUnmarshalLegacyBundle(t *testing.T) {
	data, err := cbor.Marshal(map[int]any{0: "LEPUS", 1: map[int]any{2: []byte("x")}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := UnmarshalBundle(data); !errors.Is(err, ErrLegacyBundle) {
		t.Errorf("got %v, want ErrLegacyBundle", err)
	}
	if _, err := UnmarshalBundle([]byte{0xff}); err == nil {
		t.Errorf("decoded garbage")
	}
}

func TestCreateContextBundle(t *testing.T) {
	if _, err := CreateContextBundle(false); !errors.Is(err, ErrLegacyBundle) {
		t.Errorf("got %v, want ErrLegacyBundle", err)
	}
	b, err := CreateContextBundle(true)
	if err != nil || !b.IsLepusNG() {
		t.Errorf("got (%v, %v), want a LepusNG bundle", b, err)
	}
}

func TestBundleProgramCache(t *testing.T) {
	b := NewQuickContextBundle("app.js", []byte("var a = 1;"))
	p1, err := b.Program("", true)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	p2, _ := b.Program("app.js", true)
	if p1 != p2 {
		t.Errorf("program not cached for the bundle's own name")
	}
	sloppy, _ := b.Program("", false)
	if sloppy == p1 {
		t.Errorf("strict and sloppy programs shared")
	}
	other, _ := b.Program("other.js", true)
	if other == p1 {
		t.Errorf("renamed compile returned the cached program")
	}

	bad := NewQuickContextBundle("", []byte("function ("))
	_, err = bad.Program("", true)
	if err == nil || !strings.Contains(err.Error(), DefaultBundleFileName) {
		t.Errorf("got %v, want a compile error naming %s", err, DefaultBundleFileName)
	}
}

func TestSharedBundleAcrossContexts(t *testing.T) {
	b := NewQuickContextBundle("shared.js", []byte("var counter = (typeof counter === 'number' ? counter : 0) + 1;"))
	for range 2 {
		qc, _ := newTestContext(t, Options{})
		if _, ok := qc.DeSerialize(b, false, ""); !ok {
			t.Fatalf("DeSerialize failed")
		}
		if _, ok := qc.Execute(); !ok {
			t.Fatalf("Execute failed")
		}
		if got := global(t, qc, "counter").Int64(); got != 1 {
			t.Errorf("got counter %d, want 1 in a fresh context", got)
		}
	}
}
