package vm

import (
	"bytes"
	"errors"
	"testing"
)

// runProgram executes prog with output captured. It fails the test on a
// fault or if the program is still running after the step bound.
func runProgram(t *testing.T, prog Program) (*VM, string) {
	t.Helper()
	v := New(prog)
	var out bytes.Buffer
	v.Output = &out
	running, err := v.RunSteps(10000)
	if err != nil {
		t.Fatalf("RunSteps failed: %v", err)
	}
	if running {
		t.Fatalf("program still running after 10000 steps")
	}
	return v, out.String()
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		a, b     int64
		op       Opcode
		expected int64
	}{
		{2, 3, ADD, 5},
		{-2, -3, ADD, -5},
		{2, 3, SUB, -1},
		{0, 7, SUB, -7},
		{-4, 6, MUL, -24},
		{7, 2, DIV, 3},
		{-7, 2, DIV, -3}, // truncates toward zero
		{7, 3, MOD, 1},
		{-7, 3, MOD, -1},
		{10, 2, DIV, 5},
	}

	for _, tt := range tests {
		v, _ := runProgram(t, Program{
			{Op: IMM, Arg: tt.a},
			{Op: IMM, Arg: tt.b},
			{Op: tt.op},
			{Op: EXIT},
		})
		if !v.HasResult {
			t.Errorf("%d %s %d: expected a result, got none", tt.a, tt.op, tt.b)
			continue
		}
		if v.Result != tt.expected {
			t.Errorf("%d %s %d: expected %d, got %d", tt.a, tt.op, tt.b, tt.expected, v.Result)
		}
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		a, b     int64
		op       Opcode
		expected int64
	}{
		{2, 2, EQ, 1},
		{2, 3, EQ, 0},
		{-1, -1, EQ, 1},
		{1, 2, LT, 1},
		{2, 2, LT, 0},
		{3, 2, LT, 0},
		{-5, 0, LT, 1},
		{3, 2, GT, 1},
		{2, 2, GT, 0},
		{1, 2, GT, 0},
	}

	for _, tt := range tests {
		v, _ := runProgram(t, Program{
			{Op: IMM, Arg: tt.a},
			{Op: IMM, Arg: tt.b},
			{Op: tt.op},
			{Op: EXIT},
		})
		if v.Result != tt.expected {
			t.Errorf("%d %s %d: expected %d, got %d", tt.a, tt.op, tt.b, tt.expected, v.Result)
		}
	}
}

func TestDuplicateTop(t *testing.T) {
	v, _ := runProgram(t, Program{
		{Op: IMM, Arg: 5},
		{Op: PSH},
		{Op: EXIT},
	})
	if len(v.Stack) != 2 || v.Stack[0] != 5 || v.Stack[1] != 5 {
		t.Errorf("PSH: expected stack [5 5], got %v", v.Stack)
	}
	if v.Result != 5 {
		t.Errorf("PSH: expected result 5, got %d", v.Result)
	}
}

func TestBranches(t *testing.T) {
	// JMP skips straight to index 2.
	v, _ := runProgram(t, Program{
		{Op: JMP, Arg: 2},  // 0
		{Op: IMM, Arg: 99}, // 1 (not reached)
		{Op: IMM, Arg: 7},  // 2
		{Op: EXIT},         // 3
	})
	if v.Result != 7 {
		t.Errorf("JMP: expected 7, got %d", v.Result)
	}

	// BZ taken: condition 0 jumps to index 4.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 0}, // 0
		{Op: BZ, Arg: 4},  // 1
		{Op: IMM, Arg: 1}, // 2
		{Op: EXIT},        // 3
		{Op: IMM, Arg: 2}, // 4
		{Op: EXIT},        // 5
	})
	if v.Result != 2 {
		t.Errorf("BZ taken: expected 2, got %d", v.Result)
	}

	// BZ not taken: non-zero condition falls through.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 7},
		{Op: BZ, Arg: 4},
		{Op: IMM, Arg: 1},
		{Op: EXIT},
		{Op: IMM, Arg: 2},
		{Op: EXIT},
	})
	if v.Result != 1 {
		t.Errorf("BZ not taken: expected 1, got %d", v.Result)
	}

	// BNZ taken.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 7},
		{Op: BNZ, Arg: 4},
		{Op: IMM, Arg: 1},
		{Op: EXIT},
		{Op: IMM, Arg: 2},
		{Op: EXIT},
	})
	if v.Result != 2 {
		t.Errorf("BNZ taken: expected 2, got %d", v.Result)
	}

	// BNZ not taken.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 0},
		{Op: BNZ, Arg: 4},
		{Op: IMM, Arg: 1},
		{Op: EXIT},
		{Op: IMM, Arg: 2},
		{Op: EXIT},
	})
	if v.Result != 1 {
		t.Errorf("BNZ not taken: expected 1, got %d", v.Result)
	}

	// The branch condition is consumed either way.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 3},
		{Op: IMM, Arg: 0},
		{Op: BZ, Arg: 3},
		{Op: EXIT},
	})
	if len(v.Stack) != 1 || v.Stack[0] != 3 {
		t.Errorf("BZ pops condition: expected stack [3], got %v", v.Stack)
	}
}

func TestLoadStore(t *testing.T) {
	// Store 42 into stack slot 0, then load it back.
	v, _ := runProgram(t, Program{
		{Op: IMM, Arg: 11}, // slot 0
		{Op: IMM, Arg: 0},  // address
		{Op: IMM, Arg: 42}, // value
		{Op: SI},
		{Op: IMM, Arg: 0},
		{Op: LI},
		{Op: EXIT},
	})
	if v.Result != 42 {
		t.Errorf("SI/LI: expected 42, got %d", v.Result)
	}
	if v.Stack[0] != 42 {
		t.Errorf("SI: expected slot 0 overwritten to 42, got %d", v.Stack[0])
	}
}

func TestByteLoadStore(t *testing.T) {
	// SC keeps only the low byte of the stored value.
	v, _ := runProgram(t, Program{
		{Op: IMM, Arg: 7},
		{Op: IMM, Arg: 0},
		{Op: IMM, Arg: 0x1FF},
		{Op: SC},
		{Op: IMM, Arg: 0},
		{Op: LI},
		{Op: EXIT},
	})
	if v.Result != 0xFF {
		t.Errorf("SC: expected 0xFF, got %d", v.Result)
	}

	// LC masks the loaded value, leaving the slot intact.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 0x1FF},
		{Op: IMM, Arg: 0},
		{Op: LC},
		{Op: EXIT},
	})
	if v.Result != 0xFF {
		t.Errorf("LC: expected 0xFF, got %d", v.Result)
	}
	if v.Stack[0] != 0x1FF {
		t.Errorf("LC: expected slot 0 unchanged at 0x1FF, got %d", v.Stack[0])
	}
}

func TestAdjust(t *testing.T) {
	v, _ := runProgram(t, Program{
		{Op: IMM, Arg: 1},
		{Op: IMM, Arg: 2},
		{Op: IMM, Arg: 3},
		{Op: ADJ, Arg: 2},
		{Op: EXIT},
	})
	if len(v.Stack) != 1 || v.Stack[0] != 1 {
		t.Errorf("ADJ: expected stack [1], got %v", v.Stack)
	}
	if v.Result != 1 {
		t.Errorf("ADJ: expected result 1, got %d", v.Result)
	}
}

func TestCallFrameRoundTrip(t *testing.T) {
	// Full call protocol: the caller reserves a result slot, pushes the
	// argument, calls, and adjusts the argument away afterwards. The callee
	// writes its result through a negative frame offset.
	//
	//   0: IMM 0       reserve result slot
	//   1: IMM 5       argument
	//   2: JSR 5       call (pushes return index 3)
	//   3: ADJ 1       discard argument
	//   4: EXIT
	//   5: ENT 0       callee frame
	//   6: LEA -4      address of the result slot
	//   7: LEA -3      address of the argument
	//   8: LI
	//   9: IMM 10
	//  10: ADD
	//  11: SI          result slot = argument + 10
	//  12: LEV
	v, _ := runProgram(t, Program{
		{Op: IMM, Arg: 0},
		{Op: IMM, Arg: 5},
		{Op: JSR, Arg: 5},
		{Op: ADJ, Arg: 1},
		{Op: EXIT},
		{Op: ENT, Arg: 0},
		{Op: LEA, Arg: -4},
		{Op: LEA, Arg: -3},
		{Op: LI},
		{Op: IMM, Arg: 10},
		{Op: ADD},
		{Op: SI},
		{Op: LEV},
	})
	if v.Result != 15 {
		t.Errorf("call round trip: expected 15, got %d", v.Result)
	}
	// LEV must unwind the frame bookkeeping completely: only the result
	// slot survives and the frame base is back where it started.
	if len(v.Stack) != 1 || v.Stack[0] != 15 {
		t.Errorf("call round trip: expected stack [15], got %v", v.Stack)
	}
	if v.BP != 0 {
		t.Errorf("call round trip: expected BP=0 after return, got %d", v.BP)
	}
}

func TestFrameSlots(t *testing.T) {
	// ENT reserves zeroed slots; LEA addresses them relative to the base.
	v, _ := runProgram(t, Program{
		{Op: ENT, Arg: 2},  // 0
		{Op: LEA, Arg: 1},  // 1
		{Op: IMM, Arg: 9},  // 2
		{Op: SI},           // 3: slot 1 = 9
		{Op: LEA, Arg: 1},  // 4
		{Op: LI},           // 5
		{Op: EXIT},         // 6
	})
	if v.Result != 9 {
		t.Errorf("frame slot store/load: expected 9, got %d", v.Result)
	}
	// Instruction 0 is an ENT, so EXIT drops the saved base and both
	// reserved slots before reporting.
	if len(v.Stack) != 1 || v.Stack[0] != 9 {
		t.Errorf("frame cleanup: expected stack [9], got %v", v.Stack)
	}
}

func TestExitFrameCleanup(t *testing.T) {
	// With an opening ENT the bottom frame's bookkeeping never leaks into
	// the reported result.
	v, out := runProgram(t, Program{
		{Op: ENT, Arg: 2},
		{Op: IMM, Arg: 5},
		{Op: EXIT},
	})
	if v.Result != 5 {
		t.Errorf("expected result 5, got %d", v.Result)
	}
	if len(v.Stack) != 1 {
		t.Errorf("expected one surviving value, got stack %v", v.Stack)
	}
	if out != "Program exited with value: 5\n" {
		t.Errorf("unexpected output %q", out)
	}

	// Without an opening ENT nothing is dropped.
	v, _ = runProgram(t, Program{
		{Op: IMM, Arg: 1},
		{Op: IMM, Arg: 2},
		{Op: EXIT},
	})
	if len(v.Stack) != 2 || v.Result != 2 {
		t.Errorf("expected stack [1 2] and result 2, got %v and %d", v.Stack, v.Result)
	}
}

func TestExitEmptyStack(t *testing.T) {
	v, out := runProgram(t, Program{
		{Op: EXIT},
	})
	if v.HasResult {
		t.Errorf("expected no result on an empty stack, got %d", v.Result)
	}
	if out != "Program exited: stack is empty\n" {
		t.Errorf("unexpected output %q", out)
	}
	if v.Running {
		t.Error("expected Running=false after EXIT")
	}
}

func TestSyscallStubs(t *testing.T) {
	tests := []struct {
		name     string
		prog     Program
		expected int64
		height   int
	}{
		{
			"OPEN pops two and pushes a descriptor",
			Program{{Op: IMM, Arg: 1}, {Op: IMM, Arg: 2}, {Op: OPEN}, {Op: EXIT}},
			3, 1,
		},
		{
			"READ pops three and pushes a count",
			Program{{Op: IMM, Arg: 1}, {Op: IMM, Arg: 2}, {Op: IMM, Arg: 3}, {Op: READ}, {Op: EXIT}},
			10, 1,
		},
		{
			"CLOS pops one and pushes zero",
			Program{{Op: IMM, Arg: 5}, {Op: CLOS}, {Op: EXIT}},
			0, 1,
		},
		{
			"MALC pops two and pushes zero then an address",
			Program{{Op: IMM, Arg: 1}, {Op: IMM, Arg: 2}, {Op: MALC}, {Op: EXIT}},
			0x1000, 2,
		},
		{
			"FREE pops one",
			Program{{Op: IMM, Arg: 1}, {Op: IMM, Arg: 9}, {Op: FREE}, {Op: EXIT}},
			1, 1,
		},
		{
			"MSET pops three",
			Program{{Op: IMM, Arg: 8}, {Op: IMM, Arg: 1}, {Op: IMM, Arg: 2}, {Op: IMM, Arg: 3}, {Op: MSET}, {Op: EXIT}},
			8, 1,
		},
		{
			"MCMP pops three and pushes zero",
			Program{{Op: IMM, Arg: 9}, {Op: IMM, Arg: 1}, {Op: IMM, Arg: 2}, {Op: IMM, Arg: 3}, {Op: MCMP}, {Op: EXIT}},
			0, 2,
		},
	}

	for _, tt := range tests {
		v, _ := runProgram(t, tt.prog)
		if v.Result != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.expected, v.Result)
		}
		if len(v.Stack) != tt.height {
			t.Errorf("%s: expected stack height %d, got %d", tt.name, tt.height, len(v.Stack))
		}
	}
}

func TestPrintf(t *testing.T) {
	_, out := runProgram(t, Program{
		{Op: PRTF, Text: "hey\n"},
		{Op: IMM, Arg: 0},
		{Op: EXIT},
	})
	if out != "hey\nProgram exited with value: 0\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		prog Program
		kind FaultKind
	}{
		{"divide by zero", Program{{Op: IMM, Arg: 1}, {Op: IMM, Arg: 0}, {Op: DIV}}, FaultDivideByZero},
		{"mod by zero", Program{{Op: IMM, Arg: 1}, {Op: IMM, Arg: 0}, {Op: MOD}}, FaultDivideByZero},
		{"pop on empty stack", Program{{Op: ADD}}, FaultStackUnderflow},
		{"duplicate on empty stack", Program{{Op: PSH}}, FaultStackUnderflow},
		{"load beyond stack", Program{{Op: IMM, Arg: 99}, {Op: LI}}, FaultBadAddress},
		{"load negative address", Program{{Op: IMM, Arg: -1}, {Op: LI}}, FaultBadAddress},
		{"store beyond stack", Program{{Op: IMM, Arg: 50}, {Op: IMM, Arg: 1}, {Op: SI}}, FaultBadAddress},
		{"jump outside the program", Program{{Op: JMP, Arg: 99}, {Op: EXIT}}, FaultPCOutOfRange},
		{"falling off the end", Program{{Op: IMM, Arg: 1}}, FaultPCOutOfRange},
		{"return with no frame", Program{{Op: LEV}}, FaultStackUnderflow},
		{"adjust past the bottom", Program{{Op: IMM, Arg: 1}, {Op: ADJ, Arg: 5}}, FaultStackUnderflow},
		{"frame with negative slot count", Program{{Op: ENT, Arg: -1}}, FaultBadAddress},
	}

	for _, tt := range tests {
		v := New(tt.prog)
		v.Output = &bytes.Buffer{}
		_, err := v.RunSteps(100)
		if err == nil {
			t.Errorf("%s: expected a fault, got none", tt.name)
			continue
		}
		var f *Fault
		if !errors.As(err, &f) {
			t.Errorf("%s: expected *Fault, got %T", tt.name, err)
			continue
		}
		if f.Kind != tt.kind {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.kind, f.Kind)
		}
		if v.Running {
			t.Errorf("%s: expected Running=false after fault", tt.name)
		}
	}
}

func TestTraceOutput(t *testing.T) {
	v := New(Program{
		{Op: IMM, Arg: 7},
		{Op: EXIT},
	})
	v.Output = &bytes.Buffer{}
	var trace bytes.Buffer
	v.Trace = true
	v.TraceOut = &trace

	if err := v.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := "TRACE pc=0 instr=IMM 7 stack=[]\n" +
		"TRACE pc=1 instr=EXIT stack=[7]\n"
	if trace.String() != expected {
		t.Errorf("trace output:\ngot  %q\nwant %q", trace.String(), expected)
	}
}

func TestTraceDisabledByDefault(t *testing.T) {
	v := New(Program{{Op: IMM, Arg: 1}, {Op: EXIT}})
	v.Output = &bytes.Buffer{}
	var trace bytes.Buffer
	v.TraceOut = &trace
	if err := v.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if trace.Len() != 0 {
		t.Errorf("expected no trace output, got %q", trace.String())
	}
}

func TestRunStepsBound(t *testing.T) {
	v := New(Program{{Op: JMP, Arg: 0}})
	running, err := v.RunSteps(100)
	if err != nil {
		t.Fatalf("RunSteps failed: %v", err)
	}
	if !running {
		t.Error("expected the loop to still be running")
	}
	if v.Steps != 100 {
		t.Errorf("expected 100 steps, got %d", v.Steps)
	}
}

func TestStepAfterHalt(t *testing.T) {
	v := New(Program{{Op: EXIT}})
	v.Output = &bytes.Buffer{}
	if err := v.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	steps := v.Steps
	if err := v.Step(); err != nil {
		t.Fatalf("Step after halt failed: %v", err)
	}
	if v.Steps != steps {
		t.Errorf("Step after halt should be a no-op, steps went %d -> %d", steps, v.Steps)
	}
}
