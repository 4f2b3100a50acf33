package decode

import (
	"fmt"

	"github.com/stealthrocket/wasmi/internal/reader"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func decodeBlockType(r *reader.Reader) (wasm.BlockType, error) {
	b, err := r.Byte()
	if err != nil {
		return wasm.BlockType{}, fmt.Errorf("block type: %w", err)
	}
	if b == 0x40 {
		return wasm.BlockType{}, nil
	}
	switch wasm.ValueType(b) {
	case wasm.I32, wasm.I64, wasm.F32, wasm.F64, wasm.FuncRef, wasm.ExternRef:
		return wasm.BlockType{HasResult: true, Result: wasm.ValueType(b)}, nil
	default:
		return wasm.BlockType{}, r.Errf("multi-value block types are not supported (tag %#x)", b)
	}
}

func allocBlock(blocks *[]wasm.Block) wasm.BlockIdx {
	*blocks = append(*blocks, wasm.Block{})
	return wasm.BlockIdx(len(*blocks) - 1)
}

// decodeInstrSeq decodes instructions until it hits `end` or `else`,
// allocating nested block-table entries as it goes. It returns the flat
// instruction list for this level and the opcode that terminated it.
func decodeInstrSeq(r *reader.Reader, blocks *[]wasm.Block) ([]wasm.Instr, wasm.Opcode, error) {
	var out []wasm.Instr
	for {
		opByte, err := r.Byte()
		if err != nil {
			return nil, 0, fmt.Errorf("opcode: %w", err)
		}
		op := wasm.Opcode(opByte)

		if op == wasm.OpEnd || op == wasm.OpElse {
			return out, op, nil
		}

		ins, err := decodeOneInstr(r, op, blocks)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", opName(op), err)
		}
		out = append(out, ins)
	}
}

// decodeOneInstr decodes the operands of a single already-tagged opcode.
// Structured control instructions recurse into decodeInstrSeq to fill a
// newly allocated block-table slot.
func decodeOneInstr(r *reader.Reader, op wasm.Opcode, blocks *[]wasm.Block) (wasm.Instr, error) {
	switch op {
	case wasm.OpUnreachable, wasm.OpNop, wasm.OpReturn,
		wasm.OpDrop, wasm.OpSelect,
		wasm.OpI32Eqz, wasm.OpI32Eq, wasm.OpI32Ne, wasm.OpI32LtS, wasm.OpI32LtU,
		wasm.OpI32GtS, wasm.OpI32GtU, wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI32GeS, wasm.OpI32GeU,
		wasm.OpI64Eqz, wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64LtU,
		wasm.OpI64GtS, wasm.OpI64GtU, wasm.OpI64LeS, wasm.OpI64LeU, wasm.OpI64GeS, wasm.OpI64GeU,
		wasm.OpF32Eq, wasm.OpF32Ne, wasm.OpF32Lt, wasm.OpF32Gt, wasm.OpF32Le, wasm.OpF32Ge,
		wasm.OpF64Eq, wasm.OpF64Ne, wasm.OpF64Lt, wasm.OpF64Gt, wasm.OpF64Le, wasm.OpF64Ge,
		wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt,
		wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32DivS, wasm.OpI32DivU,
		wasm.OpI32RemS, wasm.OpI32RemU, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor,
		wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32Rotl, wasm.OpI32Rotr,
		wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt,
		wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64DivS, wasm.OpI64DivU,
		wasm.OpI64RemS, wasm.OpI64RemU, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64Xor,
		wasm.OpI64Shl, wasm.OpI64ShrS, wasm.OpI64ShrU, wasm.OpI64Rotl, wasm.OpI64Rotr,
		wasm.OpF32Abs, wasm.OpF32Neg, wasm.OpF32Ceil, wasm.OpF32Floor, wasm.OpF32Trunc,
		wasm.OpF32Nearest, wasm.OpF32Sqrt, wasm.OpF32Add, wasm.OpF32Sub, wasm.OpF32Mul,
		wasm.OpF32Div, wasm.OpF32Min, wasm.OpF32Max, wasm.OpF32Copysign,
		wasm.OpF64Abs, wasm.OpF64Neg, wasm.OpF64Ceil, wasm.OpF64Floor, wasm.OpF64Trunc,
		wasm.OpF64Nearest, wasm.OpF64Sqrt, wasm.OpF64Add, wasm.OpF64Sub, wasm.OpF64Mul,
		wasm.OpF64Div, wasm.OpF64Min, wasm.OpF64Max, wasm.OpF64Copysign,
		wasm.OpI32WrapI64, wasm.OpI32TruncF32S, wasm.OpI32TruncF32U, wasm.OpI32TruncF64S, wasm.OpI32TruncF64U,
		wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U, wasm.OpI64TruncF32S, wasm.OpI64TruncF32U,
		wasm.OpI64TruncF64S, wasm.OpI64TruncF64U,
		wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U, wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U, wasm.OpF32DemoteF64,
		wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U, wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U, wasm.OpF64PromoteF32,
		wasm.OpI32ReinterpretF32, wasm.OpI64ReinterpretF64, wasm.OpF32ReinterpretI32, wasm.OpF64ReinterpretI64,
		wasm.OpI32Extend8S, wasm.OpI32Extend16S, wasm.OpI64Extend8S, wasm.OpI64Extend16S, wasm.OpI64Extend32S,
		wasm.OpRefIsNull:
		return wasm.Instr{Op: op}, nil

	case wasm.OpBlock, wasm.OpLoop:
		bt, err := decodeBlockType(r)
		if err != nil {
			return wasm.Instr{}, err
		}
		idx := allocBlock(blocks)
		inner, term, err := decodeInstrSeq(r, blocks)
		if err != nil {
			return wasm.Instr{}, err
		}
		if term != wasm.OpEnd {
			return wasm.Instr{}, r.Errf("%s must terminate with end", opName(op))
		}
		(*blocks)[idx] = wasm.Block{Instrs: inner, Type: bt, IsLoop: op == wasm.OpLoop}
		return wasm.Instr{Op: op, Block: idx}, nil

	case wasm.OpIf:
		bt, err := decodeBlockType(r)
		if err != nil {
			return wasm.Instr{}, err
		}
		thenIdx := allocBlock(blocks)
		thenInstrs, term, err := decodeInstrSeq(r, blocks)
		if err != nil {
			return wasm.Instr{}, err
		}
		(*blocks)[thenIdx] = wasm.Block{Instrs: thenInstrs, Type: bt}

		elseIdx := int32(-1)
		if term == wasm.OpElse {
			ei := allocBlock(blocks)
			elseInstrs, term2, err := decodeInstrSeq(r, blocks)
			if err != nil {
				return wasm.Instr{}, err
			}
			if term2 != wasm.OpEnd {
				return wasm.Instr{}, r.Errf("if-else must terminate with end")
			}
			(*blocks)[ei] = wasm.Block{Instrs: elseInstrs, Type: bt}
			elseIdx = int32(ei)
		} else if term != wasm.OpEnd {
			return wasm.Instr{}, r.Errf("if must terminate with end or else")
		}
		return wasm.Instr{Op: op, Block: thenIdx, ElseBlock: elseIdx}, nil

	case wasm.OpBr, wasm.OpBrIf:
		l, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("label: %w", err)
		}
		return wasm.Instr{Op: op, Label: wasm.LabelIdx(l)}, nil

	case wasm.OpBrTable:
		labels, err := reader.Vector(r, func(r *reader.Reader) (wasm.LabelIdx, error) {
			v, err := r.Uint32()
			return wasm.LabelIdx(v), err
		})
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("labels: %w", err)
		}
		def, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("default label: %w", err)
		}
		return wasm.Instr{Op: op, Labels: labels, Default: wasm.LabelIdx(def)}, nil

	case wasm.OpCall:
		f, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("func index: %w", err)
		}
		return wasm.Instr{Op: op, Func: wasm.FuncIdx(f)}, nil

	case wasm.OpCallIndirect:
		t, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("type index: %w", err)
		}
		tbl, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("table index: %w", err)
		}
		return wasm.Instr{Op: op, Type: wasm.TypeIdx(t), Tbl: wasm.TableIdx(tbl)}, nil

	case wasm.OpSelectT:
		types, err := reader.Vector(r, decodeValueType)
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("select types: %w", err)
		}
		return wasm.Instr{Op: op, SelectTypes: types}, nil

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpGlobalGet, wasm.OpGlobalSet:
		idx, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("index: %w", err)
		}
		return wasm.Instr{Op: op, Idx: idx}, nil

	case wasm.OpTableGet, wasm.OpTableSet:
		idx, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("table index: %w", err)
		}
		return wasm.Instr{Op: op, Idx: idx}, nil

	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI64Load32S, wasm.OpI64Load32U,
		wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
		wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		m, err := decodeMemArg(r)
		if err != nil {
			return wasm.Instr{}, err
		}
		return wasm.Instr{Op: op, Mem: m}, nil

	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		zero, err := r.Byte()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("reserved byte: %w", err)
		}
		if zero != 0x00 {
			return wasm.Instr{}, r.Errf("expected reserved 0x00, got %#x", zero)
		}
		return wasm.Instr{Op: op}, nil

	case wasm.OpI32Const:
		v, err := r.Int32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("i32 operand: %w", err)
		}
		return wasm.Instr{Op: op, I32: v}, nil

	case wasm.OpI64Const:
		v, err := r.Int64()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("i64 operand: %w", err)
		}
		return wasm.Instr{Op: op, I64: v}, nil

	case wasm.OpF32Const:
		v, err := r.F32Bits()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("f32 operand: %w", err)
		}
		return wasm.Instr{Op: op, F32: v}, nil

	case wasm.OpF64Const:
		v, err := r.F64Bits()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("f64 operand: %w", err)
		}
		return wasm.Instr{Op: op, F64: v}, nil

	case wasm.OpRefNull:
		rt, err := decodeRefType(r)
		if err != nil {
			return wasm.Instr{}, err
		}
		return wasm.Instr{Op: op, RefType: rt}, nil

	case wasm.OpRefFunc:
		f, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("func index: %w", err)
		}
		return wasm.Instr{Op: op, Func: wasm.FuncIdx(f)}, nil

	case wasm.OpFC:
		return decodeFCInstr(r)

	default:
		return wasm.Instr{}, r.Errf("unknown opcode %#x", byte(op))
	}
}

func decodeMemArg(r *reader.Reader) (wasm.MemArg, error) {
	align, err := r.Uint32()
	if err != nil {
		return wasm.MemArg{}, fmt.Errorf("align: %w", err)
	}
	offset, err := r.Uint32()
	if err != nil {
		return wasm.MemArg{}, fmt.Errorf("offset: %w", err)
	}
	return wasm.MemArg{Align: align, Offset: offset}, nil
}

// decodeFCInstr decodes one of the bulk-memory/table sub-opcodes that
// follow the 0xFC prefix byte.
func decodeFCInstr(r *reader.Reader) (wasm.Instr, error) {
	subByte, err := r.Uint32()
	if err != nil {
		return wasm.Instr{}, fmt.Errorf("0xFC sub-opcode: %w", err)
	}
	sub := wasm.Opcode(subByte)

	switch sub {
	case wasm.FCMemoryInit:
		seg, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("data index: %w", err)
		}
		if zero, err := r.Byte(); err != nil {
			return wasm.Instr{}, err
		} else if zero != 0 {
			return wasm.Instr{}, r.Errf("expected reserved 0x00, got %#x", zero)
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub), SegIdx: seg}, nil

	case wasm.FCDataDrop:
		seg, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("data index: %w", err)
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub), SegIdx: seg}, nil

	case wasm.FCMemoryCopy:
		if z1, err := r.Byte(); err != nil || z1 != 0 {
			return wasm.Instr{}, r.Errf("expected reserved 0x00")
		}
		if z2, err := r.Byte(); err != nil || z2 != 0 {
			return wasm.Instr{}, r.Errf("expected reserved 0x00")
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub)}, nil

	case wasm.FCMemoryFill:
		if z, err := r.Byte(); err != nil || z != 0 {
			return wasm.Instr{}, r.Errf("expected reserved 0x00")
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub)}, nil

	case wasm.FCTableInit:
		seg, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("elem index: %w", err)
		}
		tbl, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("table index: %w", err)
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub), SegIdx: seg, Tbl: wasm.TableIdx(tbl)}, nil

	case wasm.FCElemDrop:
		seg, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("elem index: %w", err)
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub), SegIdx: seg}, nil

	case wasm.FCTableCopy:
		dst, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("dst table index: %w", err)
		}
		src, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("src table index: %w", err)
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub), Tbl: wasm.TableIdx(dst), Idx2: src}, nil

	case wasm.FCTableGrow, wasm.FCTableSize, wasm.FCTableFill:
		tbl, err := r.Uint32()
		if err != nil {
			return wasm.Instr{}, fmt.Errorf("table index: %w", err)
		}
		return wasm.Instr{Op: wasm.OpFC, Idx: uint32(sub), Tbl: wasm.TableIdx(tbl)}, nil

	default:
		return wasm.Instr{}, r.Errf("unknown 0xFC sub-opcode %#x", byte(sub))
	}
}

func opName(op wasm.Opcode) string {
	return fmt.Sprintf("opcode %#x", byte(op))
}
