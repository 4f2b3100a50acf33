package decode

import (
	"fmt"

	"github.com/stealthrocket/wasmi/internal/reader"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func decodeElementSection(r *reader.Reader) ([]ElementSegment, error) {
	return reader.Vector(r, decodeElementSegment)
}

func decodeElemKind(r *reader.Reader) error {
	b, err := r.Byte()
	if err != nil {
		return err
	}
	if b != 0x00 {
		return r.Errf("invalid elemkind %#x", b)
	}
	return nil
}

func decodeFuncIdxVec(r *reader.Reader) ([]wasm.FuncIdx, error) {
	return reader.Vector(r, func(r *reader.Reader) (wasm.FuncIdx, error) {
		v, err := r.Uint32()
		return wasm.FuncIdx(v), err
	})
}

// decodeElementSegment decodes one of the eight element-segment encodings
// the bulk-memory proposal adds to the element section.
func decodeElementSegment(r *reader.Reader) (ElementSegment, error) {
	tag, err := r.Uint32()
	if err != nil {
		return ElementSegment{}, fmt.Errorf("tag: %w", err)
	}
	switch tag {
	case 0:
		off, err := decodeExpr(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("offset: %w", err)
		}
		idxs, err := decodeFuncIdxVec(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemActive, RefType: wasm.FuncRef, Table: 0, Offset: off, FuncIdxs: idxs}, nil
	case 1:
		if err := decodeElemKind(r); err != nil {
			return ElementSegment{}, fmt.Errorf("elemkind: %w", err)
		}
		idxs, err := decodeFuncIdxVec(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemPassive, RefType: wasm.FuncRef, FuncIdxs: idxs}, nil
	case 2:
		tblIdx, err := r.Uint32()
		if err != nil {
			return ElementSegment{}, fmt.Errorf("table index: %w", err)
		}
		off, err := decodeExpr(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("offset: %w", err)
		}
		if err := decodeElemKind(r); err != nil {
			return ElementSegment{}, fmt.Errorf("elemkind: %w", err)
		}
		idxs, err := decodeFuncIdxVec(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemActive, RefType: wasm.FuncRef, Table: wasm.TableIdx(tblIdx), Offset: off, FuncIdxs: idxs}, nil
	case 3:
		if err := decodeElemKind(r); err != nil {
			return ElementSegment{}, fmt.Errorf("elemkind: %w", err)
		}
		idxs, err := decodeFuncIdxVec(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemDeclarative, RefType: wasm.FuncRef, FuncIdxs: idxs}, nil
	case 4:
		off, err := decodeExpr(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("offset: %w", err)
		}
		inits, err := reader.Vector(r, decodeExpr)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemActive, RefType: wasm.FuncRef, Table: 0, Offset: off, Inits: inits}, nil
	case 5:
		rt, err := decodeRefType(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("reftype: %w", err)
		}
		inits, err := reader.Vector(r, decodeExpr)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemPassive, RefType: rt, Inits: inits}, nil
	case 6:
		tblIdx, err := r.Uint32()
		if err != nil {
			return ElementSegment{}, fmt.Errorf("table index: %w", err)
		}
		off, err := decodeExpr(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("offset: %w", err)
		}
		rt, err := decodeRefType(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("reftype: %w", err)
		}
		inits, err := reader.Vector(r, decodeExpr)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemActive, RefType: rt, Table: wasm.TableIdx(tblIdx), Offset: off, Inits: inits}, nil
	case 7:
		rt, err := decodeRefType(r)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("reftype: %w", err)
		}
		inits, err := reader.Vector(r, decodeExpr)
		if err != nil {
			return ElementSegment{}, fmt.Errorf("init: %w", err)
		}
		return ElementSegment{Mode: ElemDeclarative, RefType: rt, Inits: inits}, nil
	default:
		return ElementSegment{}, r.Errf("invalid element segment tag %d", tag)
	}
}
