package lepus

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/fxamacker/cbor/v2"
)

// DefaultBundleFileName is used for bundles loaded without a file name.
const DefaultBundleFileName = "lepus.js"

// bundleMagic prefixes encoded LepusNG bundles.
const bundleMagic = "LEPUSNG1"

// ContextBundle is the script payload of a template, fed to
// Context.DeSerialize.
type ContextBundle interface {
	IsLepusNG() bool
}

// CreateContextBundle returns an empty bundle of the requested kind. Only
// LepusNG bundles are supported.
func CreateContextBundle(isLepusNG bool) (ContextBundle, error) {
	if !isLepusNG {
		return nil, ErrLegacyBundle
	}
	return &QuickContextBundle{}, nil
}

// QuickContextBundle carries script source for a QuickContext. The compiled
// program is cached per strictness so pool members share one compilation.
type QuickContextBundle struct {
	FileName  string `cbor:"1,keyasint"`
	Source    []byte `cbor:"2,keyasint"`
	SourceMap []byte `cbor:"3,keyasint,omitempty"`

	mu       sync.Mutex
	programs [2]*goja.Program
}

// NewQuickContextBundle returns a bundle holding source.
func NewQuickContextBundle(fileName string, source []byte) *QuickContextBundle {
	return &QuickContextBundle{FileName: fileName, Source: source}
}

func (b *QuickContextBundle) IsLepusNG() bool { return true }

// Size returns the payload length in bytes.
func (b *QuickContextBundle) Size() int { return len(b.Source) }

// Program returns the compiled form of the bundle, compiling it on first
// use. fileName overrides the bundle's own name when not empty.
func (b *QuickContextBundle) Program(fileName string, strict bool) (*goja.Program, error) {
	name := b.FileName
	if fileName != "" {
		name = fileName
	}
	if name == "" {
		name = DefaultBundleFileName
	}
	// Only the bundle's own name is cached.
	cacheable := name == b.FileName || (b.FileName == "" && name == DefaultBundleFileName)
	slot := 0
	if strict {
		slot = 1
	}
	if cacheable {
		b.mu.Lock()
		p := b.programs[slot]
		b.mu.Unlock()
		if p != nil {
			return p, nil
		}
	}
	p, err := goja.Compile(name, string(b.Source), strict)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	if cacheable {
		b.mu.Lock()
		b.programs[slot] = p
		b.mu.Unlock()
	}
	return p, nil
}

var bundleEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("lepus: failed to create CBOR enc mode: %v", err))
	}
	bundleEncMode = em
}

type bundleEnvelope struct {
	Magic  string              `cbor:"0,keyasint"`
	Bundle *QuickContextBundle `cbor:"1,keyasint"`
}

// MarshalBundle serializes a bundle for a template file.
func MarshalBundle(b *QuickContextBundle) ([]byte, error) {
	return bundleEncMode.Marshal(&bundleEnvelope{Magic: bundleMagic, Bundle: b})
}

// UnmarshalBundle decodes a bundle written by MarshalBundle.
func UnmarshalBundle(data []byte) (*QuickContextBundle, error) {
	var env bundleEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("lepus: unmarshal bundle: %w", err)
	}
	if env.Magic != bundleMagic {
		return nil, fmt.Errorf("lepus: unmarshal bundle: %w", ErrLegacyBundle)
	}
	if env.Bundle == nil {
		return nil, fmt.Errorf("lepus: unmarshal bundle: empty payload")
	}
	return env.Bundle, nil
}
