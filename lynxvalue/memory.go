package lynxvalue

import (
	"fortio.org/safecast"
	"github.com/tetratelabs/wazero/api"
)

// Memory reads and writes guest linear memory. Out-parameters of the
// guest ABI are written through it.
type Memory struct {
	mem api.Memory
}

// NewMemory wraps a wazero memory instance.
func NewMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

func (m *Memory) bound() bool { return m != nil && m.mem != nil }

// ReadBytes reads n bytes at ptr. The slice aliases guest memory.
func (m *Memory) ReadBytes(ptr MemoryPtr, n uint32) ([]byte, bool) {
	if !m.bound() {
		return nil, false
	}
	return m.mem.Read(uint32(ptr), n)
}

// WriteBytes copies data to ptr.
func (m *Memory) WriteBytes(ptr MemoryPtr, data []byte) bool {
	if !m.bound() {
		return false
	}
	return m.mem.Write(uint32(ptr), data)
}

// ReadUint32 reads a little-endian uint32.
func (m *Memory) ReadUint32(ptr MemoryPtr) (uint32, bool) {
	if !m.bound() {
		return 0, false
	}
	return m.mem.ReadUint32Le(uint32(ptr))
}

// WriteUint32 writes a little-endian uint32.
func (m *Memory) WriteUint32(ptr MemoryPtr, v uint32) bool {
	if !m.bound() {
		return false
	}
	return m.mem.WriteUint32Le(uint32(ptr), v)
}

// WriteUint64 writes a little-endian uint64.
func (m *Memory) WriteUint64(ptr MemoryPtr, v uint64) bool {
	if !m.bound() {
		return false
	}
	return m.mem.WriteUint64Le(uint32(ptr), v)
}

// WriteFloat64 writes a little-endian IEEE 754 double.
func (m *Memory) WriteFloat64(ptr MemoryPtr, v float64) bool {
	if !m.bound() {
		return false
	}
	return m.mem.WriteFloat64Le(uint32(ptr), v)
}

// WriteBool writes 1 or 0 as a uint32.
func (m *Memory) WriteBool(ptr MemoryPtr, b bool) bool {
	var v uint32
	if b {
		v = 1
	}
	return m.WriteUint32(ptr, v)
}

// ReadString reads a NUL-terminated string at ptr.
func (m *Memory) ReadString(ptr MemoryPtr) (string, bool) {
	if !m.bound() || uint32(ptr) >= m.mem.Size() {
		return "", false
	}
	data, ok := m.mem.Read(uint32(ptr), m.mem.Size()-uint32(ptr))
	if !ok {
		return "", false
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), true
		}
	}
	return string(data), true
}

// WriteCString copies at most size-1 bytes of s to ptr followed by a NUL
// and returns the number of bytes of s written.
func (m *Memory) WriteCString(ptr MemoryPtr, size uint32, s string) (uint32, bool) {
	if size == 0 {
		return 0, false
	}
	n, err := safecast.Conv[uint32](len(s))
	if err != nil {
		return 0, false
	}
	n = min(n, size-1)
	buf := make([]byte, n+1)
	copy(buf, s[:n])
	return n, m.WriteBytes(ptr, buf)
}
