package lynxvalue

import (
	"context"
	"sync"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/lynx-family/lepusng/lepus"
)

// ModuleName is the import module guests use for the value operations.
const ModuleName = "lynx_value"

// IteratorExport is the guest function iterate_value calls once per entry
// with (key, value, fn, data). Both handles are released when it returns.
const IteratorExport = "lynx_value_iterator_callback"

// Host exports an Env to WebAssembly guests. Guests refer to values by
// Handle; the host keeps one owned Value per live handle.
type Host struct {
	env *Env
	mem *Memory

	mu      sync.Mutex
	handles map[Handle]lepus.Value
	next    int64
}

// NewHost returns a Host serving env. mem is the memory guests share with
// the host; when nil each guest's exported "memory" is used.
func NewHost(env *Env, mem *Memory) *Host {
	return &Host{env: env, mem: mem, handles: make(map[Handle]lepus.Value)}
}

// Push gives the guest a handle to a copy of v.
func (h *Host) Push(v lepus.Value) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id, err := safecast.Conv[int32](h.next)
	if err != nil {
		log.Error("handle space exhausted", "error", err.Error())
		return 0
	}
	h.handles[Handle(id)] = v.Copy()
	return Handle(id)
}

// Value returns the value behind hd. The result is borrowed from the host.
func (h *Host) Value(hd Handle) (lepus.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.handles[hd]
	return v, ok
}

// Release frees the value behind hd.
func (h *Host) Release(hd Handle) bool {
	h.mu.Lock()
	v, ok := h.handles[hd]
	delete(h.handles, hd)
	h.mu.Unlock()
	if ok {
		v.Free()
	}
	return ok
}

// Len returns the number of live handles.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

// Close releases every live handle.
func (h *Host) Close() {
	h.mu.Lock()
	handles := h.handles
	h.handles = make(map[Handle]lepus.Value)
	h.mu.Unlock()
	for _, v := range handles {
		v.Free()
	}
}

// memory prefers the shared memory the Host was built with, falling back
// to the memory the calling guest exports.
func (h *Host) memory(m api.Module) *Memory {
	if h.mem.bound() {
		return h.mem
	}
	if m != nil {
		if mem := m.ExportedMemory("memory"); mem != nil {
			return NewMemory(mem)
		}
	}
	return nil
}

// guestCall runs op for a guest import. Handles that do not resolve and a
// detached Env both report StatusInvalidArg.
func (h *Host) guestCall(m api.Module, op func(mem *Memory) Status) int32 {
	if !h.env.Attached() {
		return int32(StatusInvalidArg)
	}
	mem := h.memory(m)
	if mem == nil {
		return int32(StatusInvalidArg)
	}
	return int32(op(mem))
}

func (h *Host) with(hd int32, fn func(v lepus.Value) Status) Status {
	v, ok := h.Value(Handle(hd))
	if !ok {
		return StatusInvalidArg
	}
	return fn(v)
}

func (h *Host) with2(a, b int32, fn func(x, y lepus.Value) Status) Status {
	return h.with(a, func(x lepus.Value) Status {
		return h.with(b, func(y lepus.Value) Status { return fn(x, y) })
	})
}

// written turns a failed out-parameter write into StatusInvalidArg.
func written(st Status, ok bool) Status {
	if st == StatusOK && !ok {
		return StatusInvalidArg
	}
	return st
}

// pushOwned hands an owned result to the guest, writing its handle to out.
func (h *Host) pushOwned(mem *Memory, out int32, v lepus.Value, st Status) Status {
	defer v.Free()
	if st != StatusOK {
		return st
	}
	hd := h.Push(v)
	if hd.IsNull() {
		return StatusFailed
	}
	if !mem.WriteUint32(MemoryPtr(out), uint32(hd)) {
		h.Release(hd)
		return StatusInvalidArg
	}
	return StatusOK
}

func (h *Host) boolOut(hd, out int32, fn func(v lepus.Value) (bool, Status)) func(mem *Memory) Status {
	return func(mem *Memory) Status {
		return h.with(hd, func(v lepus.Value) Status {
			b, st := fn(v)
			if st != StatusOK {
				return st
			}
			return written(st, mem.WriteBool(MemoryPtr(out), b))
		})
	}
}

func stringOut(buf, size, out int32, s string) func(mem *Memory) Status {
	return func(mem *Memory) Status {
		n, err := safecast.Conv[uint32](len(s))
		if err != nil {
			return StatusFailed
		}
		if buf != 0 {
			var ok bool
			if n, ok = mem.WriteCString(MemoryPtr(buf), uint32(size), s); !ok {
				return StatusInvalidArg
			}
		}
		if out != 0 && !mem.WriteUint32(MemoryPtr(out), n) {
			return StatusInvalidArg
		}
		return StatusOK
	}
}

func (h *Host) notSupport(ctx context.Context, m api.Module, out int32) int32 {
	return int32(StatusNotSupport)
}

// Instantiate builds and instantiates the lynx_value host module in r.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return h.AddToHostModule(r.NewHostModuleBuilder(ModuleName)).Instantiate(ctx)
}

// AddToHostModule adds every guest import to builder.
func (h *Host) AddToHostModule(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	env := h.env
	return builder.
		// typeof: (value, out *type) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					t, st := env.Typeof(val)
					return written(st, st != StatusOK || mem.WriteUint32(MemoryPtr(out), uint32(t)))
				})
			})
		}).
		Export("typeof").
		// get_bool: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, h.boolOut(v, out, env.GetBool))
		}).
		Export("get_bool").
		// get_int32: (value, out *i32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					i, st := env.GetInt32(val)
					return written(st, st != StatusOK || mem.WriteUint32(MemoryPtr(out), uint32(i)))
				})
			})
		}).
		Export("get_int32").
		// get_int64: (value, out *i64) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					i, st := env.GetInt64(val)
					return written(st, st != StatusOK || mem.WriteUint64(MemoryPtr(out), uint64(i)))
				})
			})
		}).
		Export("get_int64").
		// get_double: (value, out *f64) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					f, st := env.GetDouble(val)
					return written(st, st != StatusOK || mem.WriteFloat64(MemoryPtr(out), f))
				})
			})
		}).
		Export("get_double").
		// get_number: (value, out *f64) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					f, st := env.GetNumber(val)
					return written(st, st != StatusOK || mem.WriteFloat64(MemoryPtr(out), f))
				})
			})
		}).
		Export("get_number").
		// get_string_utf8: (value, buf, bufsize, out *u32) -> status
		// A zero buf probes the length.
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, buf, size, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					if _, st := env.GetStringUTF8(val, nil); st != StatusOK {
						return st
					}
					return stringOut(buf, size, out, val.StdString())(mem)
				})
			})
		}).
		Export("get_string_utf8").
		// is_array: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, h.boolOut(v, out, env.IsArray))
		}).
		Export("is_array").
		// get_array_length: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					n, st := env.GetArrayLength(val)
					return written(st, st != StatusOK || mem.WriteUint32(MemoryPtr(out), n))
				})
			})
		}).
		Export("get_array_length").
		// set_element: (object, index, value) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj int32, idx uint32, v int32) int32 {
			return h.guestCall(m, func(*Memory) Status {
				return h.with2(obj, v, func(o, val lepus.Value) Status {
					return env.SetElement(o, idx, val)
				})
			})
		}).
		Export("set_element").
		// has_element: (object, index, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj int32, idx uint32, out int32) int32 {
			return h.guestCall(m, h.boolOut(obj, out, func(o lepus.Value) (bool, Status) {
				return env.HasElement(o, idx)
			}))
		}).
		Export("has_element").
		// get_element: (object, index, out *handle) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj int32, idx uint32, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(obj, func(o lepus.Value) Status {
					e, st := env.GetElement(o, idx)
					return h.pushOwned(mem, out, e, st)
				})
			})
		}).
		Export("get_element").
		// delete_element: (object, index, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj int32, idx uint32, out int32) int32 {
			return h.guestCall(m, h.boolOut(obj, out, func(o lepus.Value) (bool, Status) {
				return env.DeleteElement(o, idx)
			}))
		}).
		Export("delete_element").
		// is_map: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, h.boolOut(v, out, env.IsMap))
		}).
		Export("is_map").
		// set_named_property: (object, name *char, value) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj, name, v int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				key, ok := mem.ReadString(MemoryPtr(name))
				if !ok {
					return StatusInvalidArg
				}
				return h.with2(obj, v, func(o, val lepus.Value) Status {
					return env.SetNamedProperty(o, key, val)
				})
			})
		}).
		Export("set_named_property").
		// has_named_property: (object, name *char, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj, name, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				key, ok := mem.ReadString(MemoryPtr(name))
				if !ok {
					return StatusInvalidArg
				}
				return h.boolOut(obj, out, func(o lepus.Value) (bool, Status) {
					return env.HasNamedProperty(o, key)
				})(mem)
			})
		}).
		Export("has_named_property").
		// get_named_property: (object, name *char, out *handle) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj, name, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				key, ok := mem.ReadString(MemoryPtr(name))
				if !ok {
					return StatusInvalidArg
				}
				return h.with(obj, func(o lepus.Value) Status {
					e, st := env.GetNamedProperty(o, key)
					return h.pushOwned(mem, out, e, st)
				})
			})
		}).
		Export("get_named_property").
		// delete_named_property: (object, name *char) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj, name int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				key, ok := mem.ReadString(MemoryPtr(name))
				if !ok {
					return StatusInvalidArg
				}
				return h.with(obj, func(o lepus.Value) Status {
					return env.DeleteNamedProperty(o, key)
				})
			})
		}).
		Export("delete_named_property").
		// iterate_value: (object, fn, data) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, obj, fn, data int32) int32 {
			return h.guestCall(m, func(*Memory) Status {
				return h.iterate(ctx, m, obj, fn, data)
			})
		}).
		Export("iterate_value").
		// is_arraybuffer: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, h.boolOut(v, out, env.IsArrayBuffer))
		}).
		Export("is_arraybuffer").
		// get_arraybuffer_info: (value, buf, bufsize, out *u32) -> status
		// Copies up to bufsize bytes; out receives the full byte length.
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, buf int32, size uint32, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					data, st := env.GetArrayBufferInfo(val)
					if st != StatusOK {
						return st
					}
					n, err := safecast.Conv[uint32](len(data))
					if err != nil {
						return StatusFailed
					}
					if buf != 0 && !mem.WriteBytes(MemoryPtr(buf), data[:min(n, size)]) {
						return StatusInvalidArg
					}
					return written(StatusOK, out == 0 || mem.WriteUint32(MemoryPtr(out), n))
				})
			})
		}).
		Export("get_arraybuffer_info").
		// equals: (lhs, rhs, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, a, b, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(b, func(rhs lepus.Value) Status {
					return h.boolOut(a, out, func(lhs lepus.Value) (bool, Status) {
						return env.Equals(lhs, rhs)
					})(mem)
				})
			})
		}).
		Export("equals").
		// deep_copy_value: (value, out *handle) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					c, st := env.DeepCopyValue(val)
					return h.pushOwned(mem, out, c, st)
				})
			})
		}).
		Export("deep_copy_value").
		// create_reference: (value, initial_refcount, out *ref) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v int32, initial uint32, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					ref, st := env.CreateReference(val, initial)
					if st != StatusOK {
						return st
					}
					if !mem.WriteUint32(MemoryPtr(out), uint32(ref)) {
						env.DeleteReference(ref)
						return StatusInvalidArg
					}
					return StatusOK
				})
			})
		}).
		Export("create_reference").
		// delete_reference: (ref) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ref uint32) int32 {
			return h.guestCall(m, func(*Memory) Status { return env.DeleteReference(Ref(ref)) })
		}).
		Export("delete_reference").
		// move_reference: (value, src ref, inout *ref) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v int32, src uint32, inout int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				dst, ok := mem.ReadUint32(MemoryPtr(inout))
				if !ok {
					return StatusInvalidArg
				}
				val := lepus.Undefined()
				if src == 0 {
					if val, ok = h.Value(Handle(v)); !ok {
						return StatusInvalidArg
					}
				}
				ref, st := env.MoveReference(val, Ref(src), Ref(dst))
				return written(st, st != StatusOK || mem.WriteUint32(MemoryPtr(inout), uint32(ref)))
			})
		}).
		Export("move_reference").
		// get_reference_value: (ref, out *handle) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ref uint32, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				v, st := env.GetReferenceValue(Ref(ref))
				return h.pushOwned(mem, out, v, st)
			})
		}).
		Export("get_reference_value").
		// get_length: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					n, st := env.GetLength(val)
					return written(st, st != StatusOK || mem.WriteUint32(MemoryPtr(out), n))
				})
			})
		}).
		Export("get_length").
		// has_string_ref: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, h.boolOut(v, out, env.HasStringRef))
		}).
		Export("has_string_ref").
		// to_string_utf8: (value, buf, bufsize, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, buf, size, out int32) int32 {
			return h.guestCall(m, func(mem *Memory) Status {
				return h.with(v, func(val lepus.Value) Status {
					s, st := env.ToStringUTF8(val)
					if st != StatusOK {
						return st
					}
					return stringOut(buf, size, out, s)(mem)
				})
			})
		}).
		Export("to_string_utf8").
		// is_refcounted_object: (value, out *u32) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v, out int32) int32 {
			return h.guestCall(m, h.boolOut(v, out, env.IsRefCountedObject))
		}).
		Export("is_refcounted_object").
		// release: (value) -> status
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, v int32) int32 {
			if !h.Release(Handle(v)) {
				return int32(StatusInvalidArg)
			}
			return int32(StatusOK)
		}).
		Export("release").
		// Creation, calls and scopes are not served by this backend.
		NewFunctionBuilder().WithFunc(h.notSupport).Export("create_undefined").
		NewFunctionBuilder().WithFunc(h.notSupport).Export("create_null").
		NewFunctionBuilder().WithFunc(h.notSupport).Export("create_array").
		NewFunctionBuilder().WithFunc(h.notSupport).Export("create_map").
		NewFunctionBuilder().WithFunc(h.notSupport).Export("open_handle_scope").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, b, out int32) int32 { return int32(StatusNotSupport) }).
		Export("create_bool").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, i, out int32) int32 { return int32(StatusNotSupport) }).
		Export("create_int32").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, f float64, out int32) int32 { return int32(StatusNotSupport) }).
		Export("create_double").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, s, n, out int32) int32 { return int32(StatusNotSupport) }).
		Export("create_string_utf8").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, recv, fn, argc, argv, out int32) int32 {
			return int32(StatusNotSupport)
		}).
		Export("call_function").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, scope int32) int32 { return int32(StatusNotSupport) }).
		Export("close_handle_scope")
}

// iterate calls the guest's IteratorExport for each entry of obj.
func (h *Host) iterate(ctx context.Context, m api.Module, obj, fn, data int32) Status {
	if m == nil {
		return StatusInvalidArg
	}
	cb := m.ExportedFunction(IteratorExport)
	if cb == nil {
		return StatusInvalidArg
	}
	var callErr error
	st := h.with(obj, func(o lepus.Value) Status {
		return h.env.IterateValue(o, func(key, val lepus.Value) {
			if callErr != nil {
				return
			}
			k, v := h.Push(key), h.Push(val)
			defer h.Release(k)
			defer h.Release(v)
			_, callErr = cb.Call(ctx,
				api.EncodeI32(int32(k)), api.EncodeI32(int32(v)),
				api.EncodeI32(fn), api.EncodeI32(data))
		})
	})
	if callErr != nil {
		log.Error("iterator callback failed", "error", callErr.Error())
		return StatusFailed
	}
	return st
}
