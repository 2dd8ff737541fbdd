package compiler

import (
	"fmt"

	"stackc/pkg/vm"
)

// Compile runs the full pipeline over src and returns the bytecode
// program: Lex → Parse → Generate.
func Compile(src string) (vm.Program, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}

	stmts, err := Parse(tokens, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	prog, err := Generate(stmts)
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}

	return prog, nil
}
