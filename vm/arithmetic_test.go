package vm_test

import (
	"testing"

	"github.com/namazso/PawnPP/cell"
	"github.com/namazso/PawnPP/vm"
)

// aluCase runs PROC; CONST_PRI pri; CONST_ALT alt; <op>; RETN for one ALU
// opcode and checks the resulting PRI against an expected value -- spec.md
// section 8's round-trip arithmetic property, exercised opcode by opcode
// rather than through a compiled program.
type aluCase struct {
	name    string
	pri     int64
	alt     int64
	op      int
	wantPRI int64
}

func runALUCase(t *testing.T, c aluCase) {
	t.Helper()
	a := newAsm[uint32]()
	a.Entry()
	a.Op(vm.OpProc)
	a.OpImm(vm.OpConstPri, cell.FromSigned[uint32](c.pri))
	a.OpImm(vm.OpConstAlt, cell.FromSigned[uint32](c.alt))
	a.Op(c.op)
	a.Op(vm.OpRetn)
	code := a.Build(t)

	m := setup[uint32](t, code, []uint32{0, 0, 0, 0}, nil)
	retval, err := m.Call(a.Addr(t, "entry"))
	if err != nil {
		t.Fatalf("%s: Call error = %v, want nil", c.name, err)
	}
	if got := cell.ToSigned(retval); got != c.wantPRI {
		t.Fatalf("%s: PRI = %d, want %d", c.name, got, c.wantPRI)
	}
}

func TestArithmeticIdentities(t *testing.T) {
	cases := []aluCase{
		{name: "ADD", pri: 3, alt: 4, op: vm.OpAdd, wantPRI: 7},
		{name: "ADD negative", pri: -3, alt: 1, op: vm.OpAdd, wantPRI: -2},
		// SUB computes ALT - PRI.
		{name: "SUB", pri: 3, alt: 10, op: vm.OpSub, wantPRI: 7},
		{name: "AND", pri: 0b1100, alt: 0b1010, op: vm.OpAnd, wantPRI: 0b1000},
		{name: "OR", pri: 0b1100, alt: 0b1010, op: vm.OpOr, wantPRI: 0b1110},
		{name: "XOR", pri: 0b1100, alt: 0b1010, op: vm.OpXor, wantPRI: 0b0110},
		{name: "SMUL", pri: -6, alt: 7, op: vm.OpSmul, wantPRI: -42},
		{name: "SHL", pri: 1, alt: 4, op: vm.OpShl, wantPRI: 16},
		{name: "SHR", pri: 0x80, alt: 4, op: vm.OpShr, wantPRI: 0x08},
		{name: "SSHR", pri: -16, alt: 2, op: vm.OpSshr, wantPRI: -4},
		{name: "EQ true", pri: 5, alt: 5, op: vm.OpEq, wantPRI: 1},
		{name: "EQ false", pri: 5, alt: 6, op: vm.OpEq, wantPRI: 0},
		{name: "NEQ", pri: 5, alt: 6, op: vm.OpNeq, wantPRI: 1},
		{name: "SLESS true", pri: -1, alt: 0, op: vm.OpSless, wantPRI: 1},
		{name: "SLESS false", pri: 0, alt: -1, op: vm.OpSless, wantPRI: 0},
		{name: "SLEQ equal", pri: 3, alt: 3, op: vm.OpSleq, wantPRI: 1},
		{name: "SGRTR true", pri: 5, alt: 1, op: vm.OpSgrtr, wantPRI: 1},
		{name: "SGEQ equal", pri: 3, alt: 3, op: vm.OpSgeq, wantPRI: 1},
		{name: "NOT zero", pri: 0, alt: 0, op: vm.OpNot, wantPRI: 1},
		{name: "NOT nonzero", pri: 7, alt: 0, op: vm.OpNot, wantPRI: 0},
		{name: "NEG", pri: 9, alt: 0, op: vm.OpNeg, wantPRI: -9},
		{name: "NEG zero", pri: 0, alt: 0, op: vm.OpNeg, wantPRI: 0},
		{name: "INVERT", pri: 0, alt: 0, op: vm.OpInvert, wantPRI: cell.ToSigned(uint32(0xFFFFFFFF))},
		{name: "INC_PRI", pri: 41, alt: 0, op: vm.OpIncPri, wantPRI: 42},
		{name: "DEC_PRI", pri: 43, alt: 0, op: vm.OpDecPri, wantPRI: 42},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) { runALUCase(t, c) })
	}
}

// TestArithmeticWrapAcrossWidths checks that ADD and INVERT wrap within
// the cell's own width rather than the Go type's underlying width, at
// each of the three supported cell sizes -- spec.md section 3's "no
// implicit promotion" rule and section 8's round-trip-at-every-width
// property.
func TestArithmeticWrapAcrossWidths(t *testing.T) {
	t.Run("Cell16", func(t *testing.T) { testWrapWidth[uint16](t) })
	t.Run("Cell32", func(t *testing.T) { testWrapWidth[uint32](t) })
	t.Run("Cell64", func(t *testing.T) { testWrapWidth[uint64](t) })
}

func testWrapWidth[U cell.Unsigned](t *testing.T) {
	t.Helper()
	maxU := ^U(0)

	a := newAsm[U]()
	a.Entry()
	a.Op(vm.OpProc)
	a.OpImm(vm.OpConstPri, maxU) // -1 in two's complement
	a.OpImm(vm.OpConstAlt, 1)
	a.Op(vm.OpAdd) // (-1) + 1 must wrap to exactly 0 within this width
	a.Op(vm.OpRetn)
	code := a.Build(t)

	m := setup[U](t, code, []U{0, 0, 0, 0}, nil)
	retval, err := m.Call(a.Addr(t, "entry"))
	if err != nil {
		t.Fatalf("Call error = %v", err)
	}
	if retval != 0 {
		t.Fatalf("ADD wrap: PRI = %#x, want 0", uint64(retval))
	}

	// INVERT of the zero cell must set every bit up to this width's size,
	// not spill into the Go uint64 bits above it.
	a3 := newAsm[U]()
	a3.Entry()
	a3.Op(vm.OpProc)
	a3.OpImm(vm.OpConstPri, 0)
	a3.Op(vm.OpInvert)
	a3.Op(vm.OpRetn)
	code3 := a3.Build(t)
	m3 := setup[U](t, code3, []U{0, 0, 0, 0}, nil)
	retval3, err := m3.Call(a3.Addr(t, "entry"))
	if err != nil {
		t.Fatalf("Call error = %v", err)
	}
	if retval3 != maxU {
		t.Fatalf("INVERT: PRI = %#x, want %#x", uint64(retval3), uint64(maxU))
	}
}
