package decode

import (
	"fmt"

	"github.com/stealthrocket/wasmi/internal/reader"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func decodeValueType(r *reader.Reader) (wasm.ValueType, error) {
	b, err := r.Byte()
	if err != nil {
		return 0, err
	}
	switch wasm.ValueType(b) {
	case wasm.I32, wasm.I64, wasm.F32, wasm.F64, wasm.FuncRef, wasm.ExternRef:
		return wasm.ValueType(b), nil
	default:
		return 0, r.Errf("invalid value type %#x", b)
	}
}

func decodeRefType(r *reader.Reader) (wasm.RefType, error) {
	t, err := decodeValueType(r)
	if err != nil {
		return 0, err
	}
	if !t.IsReference() {
		return 0, r.Errf("expected reference type, got %s", t)
	}
	return t, nil
}

func decodeFuncType(r *reader.Reader) (wasm.FuncType, error) {
	b, err := r.Byte()
	if err != nil {
		return wasm.FuncType{}, err
	}
	if b != 0x60 {
		return wasm.FuncType{}, r.Errf("expected functype tag 0x60, got %#x", b)
	}
	params, err := reader.Vector(r, decodeValueType)
	if err != nil {
		return wasm.FuncType{}, fmt.Errorf("params: %w", err)
	}
	results, err := reader.Vector(r, decodeValueType)
	if err != nil {
		return wasm.FuncType{}, fmt.Errorf("results: %w", err)
	}
	if len(results) > 1 {
		return wasm.FuncType{}, r.Errf("multi-value results not supported, got %d", len(results))
	}
	return wasm.FuncType{Params: params, Results: results}, nil
}

func decodeTypeSection(r *reader.Reader) ([]wasm.FuncType, error) {
	return reader.Vector(r, decodeFuncType)
}

func decodeLimits(r *reader.Reader) (wasm.Limits, error) {
	tag, err := r.Byte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := r.Uint32()
	if err != nil {
		return wasm.Limits{}, fmt.Errorf("min: %w", err)
	}
	switch tag {
	case 0x00:
		return wasm.Limits{Min: min}, nil
	case 0x01:
		max, err := r.Uint32()
		if err != nil {
			return wasm.Limits{}, fmt.Errorf("max: %w", err)
		}
		return wasm.Limits{Min: min, Max: max, HasMax: true}, nil
	default:
		return wasm.Limits{}, r.Errf("invalid limits tag %#x", tag)
	}
}

func decodeTableType(r *reader.Reader) (wasm.TableType, error) {
	elem, err := decodeRefType(r)
	if err != nil {
		return wasm.TableType{}, fmt.Errorf("elem type: %w", err)
	}
	lim, err := decodeLimits(r)
	if err != nil {
		return wasm.TableType{}, fmt.Errorf("limits: %w", err)
	}
	return wasm.TableType{ElemType: elem, Limits: lim}, nil
}

func decodeMemoryType(r *reader.Reader) (wasm.MemoryType, error) {
	lim, err := decodeLimits(r)
	if err != nil {
		return wasm.MemoryType{}, err
	}
	return wasm.MemoryType{Limits: lim}, nil
}

func decodeGlobalType(r *reader.Reader) (wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return wasm.GlobalType{}, fmt.Errorf("value type: %w", err)
	}
	m, err := r.Byte()
	if err != nil {
		return wasm.GlobalType{}, fmt.Errorf("mutability: %w", err)
	}
	if m != byte(wasm.Const) && m != byte(wasm.Var) {
		return wasm.GlobalType{}, r.Errf("invalid mutability %#x", m)
	}
	return wasm.GlobalType{ValType: vt, Mutable: wasm.Mutability(m)}, nil
}

func decodeImport(r *reader.Reader) (Import, error) {
	mod, err := r.Name()
	if err != nil {
		return Import{}, fmt.Errorf("module name: %w", err)
	}
	name, err := r.Name()
	if err != nil {
		return Import{}, fmt.Errorf("field name: %w", err)
	}
	kindByte, err := r.Byte()
	if err != nil {
		return Import{}, fmt.Errorf("kind: %w", err)
	}
	imp := Import{Module: mod, Name: name, Kind: wasm.ExternalKind(kindByte)}
	switch imp.Kind {
	case wasm.ExternFunc:
		idx, err := r.Uint32()
		if err != nil {
			return Import{}, fmt.Errorf("func type index: %w", err)
		}
		imp.FuncType = wasm.TypeIdx(idx)
	case wasm.ExternTable:
		t, err := decodeTableType(r)
		if err != nil {
			return Import{}, fmt.Errorf("table type: %w", err)
		}
		imp.Table = t
	case wasm.ExternMemory:
		t, err := decodeMemoryType(r)
		if err != nil {
			return Import{}, fmt.Errorf("memory type: %w", err)
		}
		imp.Memory = t
	case wasm.ExternGlobal:
		t, err := decodeGlobalType(r)
		if err != nil {
			return Import{}, fmt.Errorf("global type: %w", err)
		}
		imp.Global = t
	default:
		return Import{}, r.Errf("invalid import kind %#x", kindByte)
	}
	return imp, nil
}

func decodeImportSection(r *reader.Reader) ([]Import, error) {
	return reader.Vector(r, decodeImport)
}

func decodeFunctionSection(r *reader.Reader) ([]wasm.TypeIdx, error) {
	return reader.Vector(r, func(r *reader.Reader) (wasm.TypeIdx, error) {
		v, err := r.Uint32()
		return wasm.TypeIdx(v), err
	})
}

func decodeTableSection(r *reader.Reader) ([]wasm.TableType, error) {
	return reader.Vector(r, decodeTableType)
}

func decodeMemorySection(r *reader.Reader) ([]wasm.MemoryType, error) {
	return reader.Vector(r, decodeMemoryType)
}

func decodeGlobal(r *reader.Reader) (Global, error) {
	typ, err := decodeGlobalType(r)
	if err != nil {
		return Global{}, fmt.Errorf("type: %w", err)
	}
	init, err := decodeExpr(r)
	if err != nil {
		return Global{}, fmt.Errorf("init expr: %w", err)
	}
	return Global{Type: typ, Init: init}, nil
}

func decodeGlobalSection(r *reader.Reader) ([]Global, error) {
	return reader.Vector(r, decodeGlobal)
}

func decodeExport(r *reader.Reader) (Export, error) {
	name, err := r.Name()
	if err != nil {
		return Export{}, fmt.Errorf("name: %w", err)
	}
	kindByte, err := r.Byte()
	if err != nil {
		return Export{}, fmt.Errorf("kind: %w", err)
	}
	idx, err := r.Uint32()
	if err != nil {
		return Export{}, fmt.Errorf("index: %w", err)
	}
	return Export{Name: name, Kind: wasm.ExternalKind(kindByte), Idx: idx}, nil
}

func decodeExportSection(r *reader.Reader) ([]Export, error) {
	exports, err := reader.Vector(r, decodeExport)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(exports))
	for _, e := range exports {
		if seen[e.Name] {
			return nil, r.Errf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = true
	}
	return exports, nil
}

func decodeStartSection(r *reader.Reader) (wasm.FuncIdx, error) {
	v, err := r.Uint32()
	return wasm.FuncIdx(v), err
}

func decodeDataSection(r *reader.Reader) ([]DataSegment, error) {
	return reader.Vector(r, decodeDataSegment)
}

func decodeDataSegment(r *reader.Reader) (DataSegment, error) {
	tag, err := r.Uint32()
	if err != nil {
		return DataSegment{}, fmt.Errorf("tag: %w", err)
	}
	switch tag {
	case 0:
		off, err := decodeExpr(r)
		if err != nil {
			return DataSegment{}, fmt.Errorf("offset: %w", err)
		}
		n, err := r.Uint32()
		if err != nil {
			return DataSegment{}, fmt.Errorf("len: %w", err)
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return DataSegment{}, fmt.Errorf("bytes: %w", err)
		}
		return DataSegment{Mode: DataActive, Memory: 0, Offset: off, Bytes: append([]byte(nil), b...)}, nil
	case 1:
		n, err := r.Uint32()
		if err != nil {
			return DataSegment{}, fmt.Errorf("len: %w", err)
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return DataSegment{}, fmt.Errorf("bytes: %w", err)
		}
		return DataSegment{Mode: DataPassive, Bytes: append([]byte(nil), b...)}, nil
	case 2:
		memIdx, err := r.Uint32()
		if err != nil {
			return DataSegment{}, fmt.Errorf("memory index: %w", err)
		}
		off, err := decodeExpr(r)
		if err != nil {
			return DataSegment{}, fmt.Errorf("offset: %w", err)
		}
		n, err := r.Uint32()
		if err != nil {
			return DataSegment{}, fmt.Errorf("len: %w", err)
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return DataSegment{}, fmt.Errorf("bytes: %w", err)
		}
		return DataSegment{Mode: DataActive, Memory: wasm.MemIdx(memIdx), Offset: off, Bytes: append([]byte(nil), b...)}, nil
	default:
		return DataSegment{}, r.Errf("invalid data segment tag %d", tag)
	}
}
