package vm

import "fmt"

// Opcode identifies one instruction in the machine's fixed instruction set.
type Opcode int

const (
	LEA Opcode = iota // push frame base + operand (address of a local slot)
	IMM               // push the immediate operand
	JMP               // pc = operand
	JSR               // push pc+1 as the return address, pc = operand
	BZ                // pop; jump to operand if zero
	BNZ               // pop; jump to operand if non-zero
	ENT               // push frame base, rebase it, reserve operand zeroed slots
	ADJ               // pop and discard operand values
	LEV               // unwind the current frame, pop the return address into pc
	LI                // pop stack address, push the word stored there
	LC                // pop stack address, push the low byte stored there
	SI                // pop value, pop stack address, store the word
	SC                // pop value, pop stack address, store the low byte
	PSH               // duplicate the top of stack

	EQ // pop b, pop a, push 1 if a == b else 0
	LT // pop b, pop a, push 1 if a < b else 0
	GT // pop b, pop a, push 1 if a > b else 0

	ADD // pop b, pop a, push a + b
	SUB // pop b, pop a, push a - b
	MUL // pop b, pop a, push a * b
	DIV // pop b, pop a, push a / b (truncating)
	MOD // pop b, pop a, push a % b (truncating)

	// Fixed-behavior syscall stand-ins. None touch real memory or files.
	OPEN // pop 2, push descriptor 3
	READ // pop 3, push count 10
	CLOS // pop 1, push 0
	PRTF // write the instruction's text verbatim to the output sink
	MALC // pop 2, push 0 then 0x1000
	FREE // pop 1
	MSET // pop 3
	MCMP // pop 3, push 0

	EXIT // halt and report the top of stack as the program result

	opcodeCount // sentinel, keeps DecodeProgram honest
)

// opcodeNames is indexed by Opcode.
var opcodeNames = [...]string{
	LEA:  "LEA",
	IMM:  "IMM",
	JMP:  "JMP",
	JSR:  "JSR",
	BZ:   "BZ",
	BNZ:  "BNZ",
	ENT:  "ENT",
	ADJ:  "ADJ",
	LEV:  "LEV",
	LI:   "LI",
	LC:   "LC",
	SI:   "SI",
	SC:   "SC",
	PSH:  "PSH",
	EQ:   "EQ",
	LT:   "LT",
	GT:   "GT",
	ADD:  "ADD",
	SUB:  "SUB",
	MUL:  "MUL",
	DIV:  "DIV",
	MOD:  "MOD",
	OPEN: "OPEN",
	READ: "READ",
	CLOS: "CLOS",
	PRTF: "PRTF",
	MALC: "MALC",
	FREE: "FREE",
	MSET: "MSET",
	MCMP: "MCMP",
	EXIT: "EXIT",
}

func (op Opcode) String() string {
	if op >= 0 && op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// hasOperand reports whether the opcode's integer operand is meaningful.
func (op Opcode) hasOperand() bool {
	switch op {
	case LEA, IMM, JMP, JSR, BZ, BNZ, ENT, ADJ:
		return true
	}
	return false
}

// Instruction is one program slot: an opcode plus, depending on the opcode,
// an integer operand (immediate, address or slot offset) or a text payload
// (PRTF only).
type Instruction struct {
	Op   Opcode `cbor:"op"`
	Arg  int64  `cbor:"arg,omitempty"`
	Text string `cbor:"text,omitempty"`
}

func (in Instruction) String() string {
	if in.Op == PRTF {
		return fmt.Sprintf("PRTF %q", in.Text)
	}
	if in.Op.hasOperand() {
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	}
	return in.Op.String()
}

// Program is an ordered, index-addressed instruction sequence. Branch and
// call operands are absolute indices into it.
type Program []Instruction
