package decode

import (
	"fmt"

	"github.com/stealthrocket/wasmi/internal/reader"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func decodeLocalsDecl(r *reader.Reader) (uint32, wasm.ValueType, error) {
	n, err := r.Uint32()
	if err != nil {
		return 0, 0, fmt.Errorf("count: %w", err)
	}
	t, err := decodeValueType(r)
	if err != nil {
		return 0, 0, fmt.Errorf("type: %w", err)
	}
	return n, t, nil
}

// decodeCode decodes one Code-section entry: the compressed locals vector
// followed by the function body, terminated by `end`.
func decodeCode(r *reader.Reader) (Code, error) {
	size, err := r.Uint32()
	if err != nil {
		return Code{}, fmt.Errorf("body size: %w", err)
	}
	body, err := r.Bytes(int(size))
	if err != nil {
		return Code{}, fmt.Errorf("body: %w", err)
	}
	br := reader.New(body)

	declCount, err := br.Uint32()
	if err != nil {
		return Code{}, fmt.Errorf("locals decl count: %w", err)
	}
	var locals []wasm.ValueType
	for i := uint32(0); i < declCount; i++ {
		n, t, err := decodeLocalsDecl(br)
		if err != nil {
			return Code{}, fmt.Errorf("locals[%d]: %w", i, err)
		}
		for j := uint32(0); j < n; j++ {
			locals = append(locals, t)
		}
	}

	var blocks []wasm.Block
	instrs, term, err := decodeInstrSeq(br, &blocks)
	if err != nil {
		return Code{}, fmt.Errorf("instructions: %w", err)
	}
	if term != wasm.OpEnd {
		return Code{}, br.Errf("function body must terminate with end")
	}
	if !br.Done() {
		return Code{}, br.Errf("trailing bytes after function body")
	}

	return Code{Locals: locals, Body: instrs, Blocks: blocks}, nil
}

func decodeCodeSection(r *reader.Reader) ([]Code, error) {
	return reader.Vector(r, decodeCode)
}

// decodeExpr decodes a constant initializer expression: an instruction
// sequence (with its own block table) terminated by `end`.
func decodeExpr(r *reader.Reader) (Expr, error) {
	var blocks []wasm.Block
	instrs, term, err := decodeInstrSeq(r, &blocks)
	if err != nil {
		return Expr{}, err
	}
	if term != wasm.OpEnd {
		return Expr{}, r.Errf("expression must terminate with end")
	}
	return Expr{Instrs: instrs, Blocks: blocks}, nil
}
