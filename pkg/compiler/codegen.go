package compiler

import (
	"fmt"

	"stackc/pkg/vm"
)

// ErrorKind classifies the semantic errors code generation can report.
type ErrorKind int

const (
	ErrUndeclaredVariable ErrorKind = iota
	ErrUnresolvedCall
	ErrDuplicateFunction
)

var errorKindNames = [...]string{
	ErrUndeclaredVariable: "undeclared variable",
	ErrUnresolvedCall:     "call to undefined function",
	ErrDuplicateFunction:  "duplicate function definition",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// CompileError is a semantic error found while generating code, carrying
// the name that caused it.
type CompileError struct {
	Kind ErrorKind
	Name string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s %q", e.Kind, e.Name)
}

// Relocation marks a call instruction whose target operand is patched
// once every function's entry address is known.
type Relocation struct {
	Index  int    // index of the JSR instruction to patch
	Callee string // function name the call refers to
}

// unpatched is the placeholder operand for branches and calls whose
// target is not known at emission time.
const unpatched = -1

// binaryOps maps source operators to their opcodes.
var binaryOps = map[TokenType]vm.Opcode{
	PLUS:    vm.ADD,
	MINUS:   vm.SUB,
	STAR:    vm.MUL,
	SLASH:   vm.DIV,
	PERCENT: vm.MOD,
	EQUALS:  vm.EQ,
	LESS:    vm.LT,
	GREATER: vm.GT,
}

// Generator walks an AST and emits a vm.Program.
type Generator struct {
	prog    vm.Program
	relocs  []Relocation
	entries map[string]int // function name -> entry instruction index
	scope   *Scope
}

func newGenerator() *Generator {
	return &Generator{
		entries: make(map[string]int),
		scope:   NewScope(nil),
	}
}

// emit appends an instruction with no operand and returns its index.
func (g *Generator) emit(op vm.Opcode) int {
	g.prog = append(g.prog, vm.Instruction{Op: op})
	return len(g.prog) - 1
}

// emitArg appends an instruction with an operand and returns its index.
func (g *Generator) emitArg(op vm.Opcode, arg int64) int {
	g.prog = append(g.prog, vm.Instruction{Op: op, Arg: arg})
	return len(g.prog) - 1
}

// emitText appends an instruction carrying a string payload.
func (g *Generator) emitText(op vm.Opcode, text string) int {
	g.prog = append(g.prog, vm.Instruction{Op: op, Text: text})
	return len(g.prog) - 1
}

// patch rewrites the operand of a previously emitted branch or call.
func (g *Generator) patch(index, target int) {
	g.prog[index].Arg = int64(target)
}

// here is the index the next emitted instruction will occupy.
func (g *Generator) here() int {
	return len(g.prog)
}

func (g *Generator) genExpr(e Expr) error {
	switch n := e.(type) {
	case *Literal:
		g.emitArg(vm.IMM, n.Value)

	case *VarRef:
		slot, ok := g.scope.Lookup(n.Name)
		if !ok {
			return &CompileError{Kind: ErrUndeclaredVariable, Name: n.Name}
		}
		g.emitArg(vm.LEA, int64(slot))
		g.emit(vm.LI)

	case *BinaryExpr:
		if err := g.genExpr(n.Left); err != nil {
			return err
		}
		if err := g.genExpr(n.Right); err != nil {
			return err
		}
		op, ok := binaryOps[n.Op]
		if !ok {
			return fmt.Errorf("no opcode for operator %s", n.Op)
		}
		g.emit(op)

	case *FunctionCall:
		// The frame opens before the arguments are evaluated so that
		// the callee's parameter slots land exactly on the pushed
		// argument values.
		g.emitArg(vm.ENT, 0)
		for _, arg := range n.Args {
			if err := g.genExpr(arg); err != nil {
				return err
			}
		}
		idx := g.emitArg(vm.JSR, unpatched)
		g.relocs = append(g.relocs, Relocation{Index: idx, Callee: n.Name})

	default:
		return fmt.Errorf("cannot generate code for expression %T", e)
	}
	return nil
}

func (g *Generator) genStmt(s Stmt) error {
	switch n := s.(type) {
	case *ReturnStmt:
		if err := g.genExpr(n.Expr); err != nil {
			return err
		}
		g.emit(vm.PSH)
		g.emit(vm.EXIT)

	case *PrintStmt:
		g.emitText(vm.PRTF, n.Text)

	case *VariableDecl:
		// Declare first: the slot is live while the initializer runs.
		slot := g.scope.Declare(n.Name)
		g.emitArg(vm.LEA, int64(slot))
		if err := g.genExpr(n.Init); err != nil {
			return err
		}
		g.emit(vm.SI)

	case *Assignment:
		slot, ok := g.scope.Lookup(n.Name)
		if !ok {
			return &CompileError{Kind: ErrUndeclaredVariable, Name: n.Name}
		}
		g.emitArg(vm.LEA, int64(slot))
		if err := g.genExpr(n.Value); err != nil {
			return err
		}
		g.emit(vm.SI)

	case *IfStmt:
		if err := g.genExpr(n.Condition); err != nil {
			return err
		}
		skip := g.emitArg(vm.BZ, unpatched)
		if err := g.genStmt(n.Body); err != nil {
			return err
		}
		if n.ElseBody != nil {
			over := g.emitArg(vm.JMP, unpatched)
			g.patch(skip, g.here())
			if err := g.genStmt(n.ElseBody); err != nil {
				return err
			}
			g.patch(over, g.here())
		} else {
			g.patch(skip, g.here())
		}

	case *WhileStmt:
		start := g.here()
		if err := g.genExpr(n.Condition); err != nil {
			return err
		}
		exit := g.emitArg(vm.BZ, unpatched)
		if err := g.genStmt(n.Body); err != nil {
			return err
		}
		g.emitArg(vm.JMP, int64(start))
		g.patch(exit, g.here())

	case *BlockStmt:
		// Blocks group statements but do not open a new frame or scope.
		for _, inner := range n.Stmts {
			if err := g.genStmt(inner); err != nil {
				return err
			}
		}

	case *FunctionDecl:
		if _, exists := g.entries[n.Name]; exists {
			return &CompileError{Kind: ErrDuplicateFunction, Name: n.Name}
		}
		// Definitions are inline in the instruction stream; straight-line
		// execution jumps over the body.
		over := g.emitArg(vm.JMP, unpatched)
		g.entries[n.Name] = g.here()

		// The body resolves names against its own frame. Parameters
		// occupy slots 0..n-1, matching the arguments the caller pushed.
		outer := g.scope
		g.scope = NewScope(nil)
		for _, param := range n.Params {
			g.scope.Declare(param)
		}
		err := g.genStmt(n.Body)
		g.scope = outer
		if err != nil {
			return err
		}
		g.patch(over, g.here())

	default:
		return fmt.Errorf("cannot generate code for statement %T", s)
	}
	return nil
}

// resolveCalls patches every recorded call site with its callee's entry
// address.
func (g *Generator) resolveCalls() error {
	for _, r := range g.relocs {
		entry, ok := g.entries[r.Callee]
		if !ok {
			return &CompileError{Kind: ErrUnresolvedCall, Name: r.Callee}
		}
		g.patch(r.Index, entry)
	}
	return nil
}

// Generate emits the bytecode program for a parsed statement list.
//
// Generation runs in two phases: the statement walk emits instructions
// with placeholder operands for forward references, then the relocation
// pass patches every call site once all function entry addresses are
// known. Instruction 0 reserves the top-level frame; its slot count is
// rewritten after the walk, when the full frame size is known.
func Generate(stmts []Stmt) (vm.Program, error) {
	// A program holding nothing but function definitions has no code to
	// run; it exits immediately with value 0.
	onlyFuncs := true
	for _, s := range stmts {
		if _, ok := s.(*FunctionDecl); !ok {
			onlyFuncs = false
			break
		}
	}
	if onlyFuncs {
		return vm.Program{{Op: vm.IMM, Arg: 0}, {Op: vm.EXIT}}, nil
	}

	g := newGenerator()

	// 1. Emit, starting with the top-level frame placeholder.
	g.emitArg(vm.ENT, 0)
	for _, s := range stmts {
		if err := g.genStmt(s); err != nil {
			return nil, err
		}
	}

	// 2. Resolve call targets and the top-level frame size.
	if err := g.resolveCalls(); err != nil {
		return nil, err
	}
	g.prog[0].Arg = int64(g.scope.Size())

	return g.prog, nil
}
