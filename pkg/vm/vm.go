package vm

import (
	"fmt"
	"io"
	"os"
)

// FaultKind classifies a fatal runtime condition.
type FaultKind int

const (
	FaultPCOutOfRange FaultKind = iota
	FaultStackUnderflow
	FaultBadAddress
	FaultDivideByZero
)

var faultNames = [...]string{
	FaultPCOutOfRange:   "pc out of range",
	FaultStackUnderflow: "stack underflow",
	FaultBadAddress:     "address out of range",
	FaultDivideByZero:   "division by zero",
}

func (k FaultKind) String() string {
	if int(k) >= 0 && int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// Fault is the error returned when execution hits a fatal condition.
// There is no recovery: the machine stops at the faulting instruction.
type Fault struct {
	Kind   FaultKind
	PC     int
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s at pc %d", f.Kind, f.PC)
	}
	return fmt.Sprintf("%s at pc %d: %s", f.Kind, f.PC, f.Detail)
}

// VM executes a Program against a single operand stack. The stack holds
// data values, call-frame bookkeeping and return addresses alike; BP marks
// where the active frame's slots begin.
type VM struct {
	Stack   []int64
	PC      int
	BP      int
	Program Program
	Running bool

	// Trace makes Step write one diagnostic line per instruction, before
	// executing it, to the trace sink.
	Trace bool

	// Steps counts executed instructions across the whole run.
	Steps int64

	// Result holds the value reported by EXIT; HasResult distinguishes a
	// zero result from an empty stack at termination.
	Result    int64
	HasResult bool

	// Output is where PRTF text and the EXIT report are written.
	// If nil, os.Stdout is used.
	Output io.Writer

	// TraceOut is where trace lines are written. If nil, os.Stderr is used.
	TraceOut io.Writer
}

// New creates a machine ready to execute prog from instruction 0.
func New(prog Program) *VM {
	return &VM{
		Stack:   make([]int64, 0, 256),
		Program: prog,
		Running: true,
	}
}

func (v *VM) outputSink() io.Writer {
	if v.Output != nil {
		return v.Output
	}
	return os.Stdout
}

func (v *VM) traceSink() io.Writer {
	if v.TraceOut != nil {
		return v.TraceOut
	}
	return os.Stderr
}

func (v *VM) fault(kind FaultKind, format string, args ...any) *Fault {
	v.Running = false
	return &Fault{Kind: kind, PC: v.PC, Detail: fmt.Sprintf(format, args...)}
}

func (v *VM) push(x int64) {
	v.Stack = append(v.Stack, x)
}

func (v *VM) pop(op Opcode) (int64, error) {
	if len(v.Stack) == 0 {
		return 0, v.fault(FaultStackUnderflow, "%s on an empty stack", op)
	}
	x := v.Stack[len(v.Stack)-1]
	v.Stack = v.Stack[:len(v.Stack)-1]
	return x, nil
}

// slot validates a stack address popped by LI/LC/SI/SC.
func (v *VM) slot(op Opcode, addr int64) (int, error) {
	if addr < 0 || addr >= int64(len(v.Stack)) {
		return 0, v.fault(FaultBadAddress, "%s at %d, stack height %d", op, addr, len(v.Stack))
	}
	return int(addr), nil
}

// Step executes exactly one instruction. The default successor is pc+1;
// branch, call and return instructions set pc themselves.
func (v *VM) Step() error {
	if !v.Running {
		return nil
	}
	if v.PC < 0 || v.PC >= len(v.Program) {
		return v.fault(FaultPCOutOfRange, "program length %d", len(v.Program))
	}

	in := v.Program[v.PC]
	if v.Trace {
		fmt.Fprintf(v.traceSink(), "TRACE pc=%d instr=%v stack=%v\n", v.PC, in, v.Stack)
	}
	v.Steps++

	next := v.PC + 1
	switch in.Op {
	case IMM:
		v.push(in.Arg)

	case PSH:
		if len(v.Stack) == 0 {
			return v.fault(FaultStackUnderflow, "PSH on an empty stack")
		}
		v.push(v.Stack[len(v.Stack)-1])

	case ADD, SUB, MUL, DIV, MOD:
		b, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		a, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		if (in.Op == DIV || in.Op == MOD) && b == 0 {
			return v.fault(FaultDivideByZero, "%d %s 0", a, in.Op)
		}
		switch in.Op {
		case ADD:
			v.push(a + b)
		case SUB:
			v.push(a - b)
		case MUL:
			v.push(a * b)
		case DIV:
			v.push(a / b)
		case MOD:
			v.push(a % b)
		}

	case EQ, LT, GT:
		b, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		a, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		hit := (in.Op == EQ && a == b) || (in.Op == LT && a < b) || (in.Op == GT && a > b)
		if hit {
			v.push(1)
		} else {
			v.push(0)
		}

	case JMP:
		next = int(in.Arg)

	case BZ:
		c, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		if c == 0 {
			next = int(in.Arg)
		}

	case BNZ:
		c, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		if c != 0 {
			next = int(in.Arg)
		}

	case JSR:
		v.push(int64(v.PC + 1))
		next = int(in.Arg)

	case ENT:
		if in.Arg < 0 {
			return v.fault(FaultBadAddress, "ENT with negative slot count %d", in.Arg)
		}
		v.push(int64(v.BP))
		v.BP = len(v.Stack)
		for i := int64(0); i < in.Arg; i++ {
			v.push(0)
		}

	case ADJ:
		if in.Arg < 0 {
			return v.fault(FaultBadAddress, "ADJ with negative count %d", in.Arg)
		}
		if in.Arg > int64(len(v.Stack)) {
			return v.fault(FaultStackUnderflow, "ADJ %d with stack height %d", in.Arg, len(v.Stack))
		}
		v.Stack = v.Stack[:len(v.Stack)-int(in.Arg)]

	case LEV:
		if v.BP < 1 || v.BP > len(v.Stack) {
			return v.fault(FaultStackUnderflow, "LEV with no active frame (bp %d, stack height %d)", v.BP, len(v.Stack))
		}
		saved := v.Stack[v.BP-1]
		if saved < 0 {
			return v.fault(FaultBadAddress, "LEV restored frame base %d", saved)
		}
		v.Stack = v.Stack[:v.BP-1]
		v.BP = int(saved)
		ret, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		next = int(ret)

	case LEA:
		v.push(int64(v.BP) + in.Arg)

	case LI, LC:
		addr, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		i, err := v.slot(in.Op, addr)
		if err != nil {
			return err
		}
		val := v.Stack[i]
		if in.Op == LC {
			val &= 0xFF
		}
		v.push(val)

	case SI, SC:
		val, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		addr, err := v.pop(in.Op)
		if err != nil {
			return err
		}
		i, err := v.slot(in.Op, addr)
		if err != nil {
			return err
		}
		if in.Op == SC {
			val &= 0xFF
		}
		v.Stack[i] = val

	case PRTF:
		fmt.Fprint(v.outputSink(), in.Text)

	case EXIT:
		v.terminate()
		return nil

	case MALC:
		if err := v.discard(in.Op, 2); err != nil {
			return err
		}
		v.push(0)
		v.push(0x1000)

	case FREE:
		if err := v.discard(in.Op, 1); err != nil {
			return err
		}

	case MSET:
		if err := v.discard(in.Op, 3); err != nil {
			return err
		}

	case MCMP:
		if err := v.discard(in.Op, 3); err != nil {
			return err
		}
		v.push(0)

	case OPEN:
		if err := v.discard(in.Op, 2); err != nil {
			return err
		}
		v.push(3)

	case READ:
		if err := v.discard(in.Op, 3); err != nil {
			return err
		}
		v.push(10)

	case CLOS:
		if err := v.discard(in.Op, 1); err != nil {
			return err
		}
		v.push(0)

	default:
		return v.fault(FaultPCOutOfRange, "unknown opcode %d", int(in.Op))
	}

	v.PC = next
	return nil
}

func (v *VM) discard(op Opcode, n int) error {
	for i := 0; i < n; i++ {
		if _, err := v.pop(op); err != nil {
			return err
		}
	}
	return nil
}

// terminate implements EXIT. The bottom frame's bookkeeping (the saved base
// pushed by an ENT at instruction 0 plus its reserved slots) is dropped
// before the result is read, so the reported value and the remaining stack
// reflect only what the program computed.
func (v *VM) terminate() {
	v.Running = false

	if len(v.Program) > 0 && v.Program[0].Op == ENT {
		drop := 1 + int(v.Program[0].Arg)
		if drop < 0 {
			drop = 0
		}
		if drop > len(v.Stack) {
			drop = len(v.Stack)
		}
		v.Stack = v.Stack[drop:]
	}

	out := v.outputSink()
	if len(v.Stack) > 0 {
		v.Result = v.Stack[len(v.Stack)-1]
		v.HasResult = true
		fmt.Fprintf(out, "Program exited with value: %d\n", v.Result)
	} else {
		fmt.Fprintln(out, "Program exited: stack is empty")
	}
}

// Run executes instructions until the program terminates or faults.
func (v *VM) Run() error {
	for v.Running {
		if err := v.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunSteps executes at most max instructions and reports whether the
// program is still running afterwards. Callers that cannot trust a program
// to halt (tests, interactive front-ends) use this instead of Run.
func (v *VM) RunSteps(max int) (bool, error) {
	for i := 0; i < max && v.Running; i++ {
		if err := v.Step(); err != nil {
			return false, err
		}
	}
	return v.Running, nil
}
