package vm_test

import (
	"testing"

	"github.com/namazso/PawnPP/cell"
	"github.com/namazso/PawnPP/mem"
	"github.com/namazso/PawnPP/vm"
)

// setup builds a Machine over freshly paged code/data backings, mapping
// code and data verbatim and initializing STK/STP to the top of data --
// the same shape loader.Load installs (including its page split: half the
// cell width, at most 16 index bits), but built directly so tests can
// hand-author tiny programs as literal cell slices without going through
// the AMX file format (per SPEC_FULL.md section 2).
func setup[U cell.Unsigned](t *testing.T, code, data []U, cb vm.Callback[U]) *vm.Machine[U] {
	t.Helper()
	indexBits := min(cell.Bits[U]()/2, 16)
	codeBacking := mem.NewPaged[U](indexBits)
	dataBacking := mem.NewPaged[U](indexBits)
	mm := mem.Harvard[U](codeBacking, dataBacking)
	m := vm.New[U](mm, cb)

	codeVA, err := mm.Code().Map(code)
	if err != nil {
		t.Fatalf("map code: %v", err)
	}
	dataVA, err := mm.Data().Map(data)
	if err != nil {
		t.Fatalf("map data: %v", err)
	}
	m.COD, m.DAT = codeVA, dataVA

	cellBytes := U(cell.Bytes[U]())
	m.STK = U(len(data)-1) * cellBytes
	m.STP = m.STK
	m.HEA = 0
	return m
}

// asmFixup is a pending patch of one operand cell to the byte-relative
// offset of a (possibly forward-referenced) label. The base the offset is
// measured from varies by slot (see baseIdx): for CALL/JUMP-family and
// SWITCH operands it is the opcode cell (step.go decodes CIP - 2*CB + rel
// after fetching the operand); for CASETBL default/case entries it is the
// entry's own cell.
type asmFixup struct {
	operandIdx int
	baseIdx    int
	label      string
}

// asmBuilder assembles a tiny AMX code array as a literal []U cell
// slice, resolving CALL/JUMP/SWITCH/CASETBL relative operands from
// labels instead of requiring hand computed byte offsets. It is a test
// fixture, not a general assembler -- see SPEC_FULL.md section 2 (this
// module carries no assembler package).
type asmBuilder[U cell.Unsigned] struct {
	cb     U
	cells  []U
	labels map[string]U
	fixups []asmFixup
}

func newAsm[U cell.Unsigned]() *asmBuilder[U] {
	return &asmBuilder[U]{cb: U(cell.Bytes[U]()), labels: map[string]U{}}
}

// Label records the current write position as a byte VA under name,
// resolvable by later (or already emitted) Rel/CaseTable references.
func (a *asmBuilder[U]) Label(name string) { a.labels[name] = a.here() }

// Addr returns the byte VA recorded under name by an earlier Label call.
// callRaw treats CIP == 0 as "no code to run" (see vm/call.go), so every
// test program reserves address 0 for a dead placeholder HALT and starts
// its real entry point at a later, non-zero label -- Addr is how tests
// recover that address to pass to Machine.Call.
func (a *asmBuilder[U]) Addr(t *testing.T, name string) U {
	t.Helper()
	v, ok := a.labels[name]
	if !ok {
		t.Fatalf("asm: undefined label %q", name)
	}
	return v
}

// Entry emits the conventional dead-code placeholder (a HALT no path
// ever reaches) and labels the position immediately after it "entry",
// the byte VA a test should pass to Machine.Call.
func (a *asmBuilder[U]) Entry() {
	a.OpImm(vm.OpHalt, 0)
	a.Label("entry")
}

func (a *asmBuilder[U]) here() U { return U(len(a.cells)) * a.cb }

func (a *asmBuilder[U]) emit(v U) int {
	a.cells = append(a.cells, v)
	return len(a.cells) - 1
}

// Op emits a bare, operand-less opcode.
func (a *asmBuilder[U]) Op(op int) { a.emit(U(op)) }

// OpImm emits an opcode followed by a literal immediate operand.
func (a *asmBuilder[U]) OpImm(op int, imm U) {
	a.emit(U(op))
	a.emit(imm)
}

// OpRel emits an opcode followed by a placeholder operand patched at
// Build time to (label's address - this opcode's own address), matching
// the "CIP - 2*CB + rel" decode in step.go (see spec.md section 9).
func (a *asmBuilder[U]) OpRel(op int, label string) {
	opIdx := a.emit(U(op))
	operandIdx := a.emit(0)
	a.fixups = append(a.fixups, asmFixup{operandIdx: operandIdx, baseIdx: opIdx, label: label})
}

// asmCase is one (test value, target label) pair of a CASETBL.
type asmCase[U cell.Unsigned] struct {
	Val   U
	Label string
}

// CaseTable emits a CASETBL record: the marker cell, a record count,
// a default entry, and one entry per case -- each entry's rel is
// relative to its own cell address, matching doSwitch's "matchAddr :=
// casetbl" in step.go before it reads the rel cell.
func (a *asmBuilder[U]) CaseTable(defaultLabel string, cases []asmCase[U]) {
	a.Op(vm.OpCasetbl)
	a.emit(U(len(cases)))
	defIdx := a.emit(0)
	a.fixups = append(a.fixups, asmFixup{operandIdx: defIdx, baseIdx: defIdx, label: defaultLabel})
	for _, c := range cases {
		a.emit(c.Val)
		caseIdx := a.emit(0)
		a.fixups = append(a.fixups, asmFixup{operandIdx: caseIdx, baseIdx: caseIdx, label: c.Label})
	}
}

// Build resolves every pending fixup and returns the assembled code.
func (a *asmBuilder[U]) Build(t *testing.T) []U {
	t.Helper()
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			t.Fatalf("asm: undefined label %q", f.label)
		}
		base := U(f.baseIdx) * a.cb
		rel := int64(target) - int64(base)
		a.cells[f.operandIdx] = cell.FromSigned[U](rel)
	}
	return a.cells
}
