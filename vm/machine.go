// Package vm implements the AMX bytecode interpreter: the register file,
// the opcode decoder/dispatcher, the host callback protocol, and Call, the
// entry point hosts use to invoke a public function.
//
// A Machine is parametric over cell width via the cell.Unsigned
// constraint (Cell16, Cell32, Cell64); width is fixed for the machine's
// lifetime. Memory access is never direct: every load/store goes through
// a mem.Manager, which is what makes a Machine safe to run untrusted
// guest code against host-owned buffers.
//
// A normal top-level Call returns a nil error with PRI holding the
// called function's return value: RET/RETN unwinds to the sentinel
// return address Call pushes, and the instruction loop stops there
// without ever executing the compiler's placeholder HALT at code
// address 0 (see callRaw). An explicit HALT reached any other way ends
// the call with error Halt instead -- callers should treat that as
// "program terminated", not as a failure requiring recovery.
package vm

import (
	"github.com/namazso/PawnPP/cell"
	"github.com/namazso/PawnPP/mem"
)

// Callback multiplexes every upcall the VM makes into the host: single-
// step (index == CBIDSingleStep), break (index == CBIDBreak), and native
// calls (any other index, the native's slot in the host's native table).
// stk is the current STK register, letting a native handler read argc
// (the cell at stk) and the argument cells that follow it.
//
// The callback may freely read and write m.PRI; it must not rely on
// ALT/FRM/CIP/STP/STK being preserved after it returns -- the Machine
// snapshots and restores them regardless of what the callback does,
// per spec.md section 4.6.
type Callback[U cell.Unsigned] func(m *Machine[U], index int64, stk U) error

// Machine is one AMX virtual machine instance: the register file plus the
// memory manager and host callback it was constructed with.
//
// A Machine is not safe for concurrent use; the host drives it entirely
// from a single goroutine, per spec.md section 5. A callback may re-enter
// the Machine with a nested Call -- such nesting shares PRI, but ALT,
// FRM, CIP, STP and STK are isolated by the snapshot/restore around every
// callback invocation.
type Machine[U cell.Unsigned] struct {
	// PRI and ALT are the general-purpose ALU registers.
	PRI, ALT U
	// FRM is the current frame base (data VA); CIP is the code VA of the
	// next instruction to execute.
	FRM, CIP U
	// STK is the current stack pointer (data VA); STP is the stack top,
	// constant after initialization; HEA is the heap top (data VA).
	STK, STP, HEA U
	// COD and DAT are the code and data segment base VAs, constant after
	// the loader installs the segments.
	COD, DAT U

	mm *mem.Manager[U]
	cb Callback[U]
}

// New creates a Machine over the given memory manager and host callback.
// The caller (normally the loader) is responsible for having already
// mapped code and data into mm and for setting COD/DAT/STK/STP/HEA
// accordingly before the first Call.
func New[U cell.Unsigned](mm *mem.Manager[U], cb Callback[U]) *Machine[U] {
	if cb == nil {
		cb = func(*Machine[U], int64, U) error { return nil }
	}
	return &Machine[U]{mm: mm, cb: cb}
}

// cellBytes is CB, the size in bytes of this Machine's cell type.
func (m *Machine[U]) cellBytes() U { return U(cell.Bytes[U]()) }

// fireCallback invokes the host callback, isolating ALT/FRM/CIP/STP/STK
// across the call per spec.md section 4.6. Only PRI may be observed to
// change.
func (m *Machine[U]) fireCallback(index int64, stk U) error {
	alt, frm, cip, stp, stk2 := m.ALT, m.FRM, m.CIP, m.STP, m.STK
	err := m.cb(m, index, stk)
	m.ALT, m.FRM, m.CIP, m.STP, m.STK = alt, frm, cip, stp, stk2
	return err
}

// dataPtr translates a data VA, returning AccessViolation on failure.
func (m *Machine[U]) dataPtr(va U) ([]U, error) {
	p, err := m.mm.Data().Translate(va)
	if err != nil {
		return nil, AccessViolation
	}
	return p, nil
}

// codePtr translates a code VA, returning AccessViolationCode on failure.
func (m *Machine[U]) codePtr(va U) ([]U, error) {
	p, err := m.mm.Code().Translate(va)
	if err != nil {
		return nil, AccessViolationCode
	}
	return p, nil
}

// Push pushes v onto the data stack, decrementing STK by one cell first.
func (m *Machine[U]) Push(v U) error {
	m.STK -= m.cellBytes()
	p, err := m.dataPtr(m.STK)
	if err != nil {
		return err
	}
	p[0] = v
	return nil
}

// Pop pops and returns the cell at the top of the data stack.
func (m *Machine[U]) Pop() (U, error) {
	p, err := m.dataPtr(m.STK)
	if err != nil {
		return 0, err
	}
	v := p[0]
	m.STK += m.cellBytes()
	return v, nil
}

// DataTranslate exposes the data memory manager's translation to the
// host, for reading/writing guest memory outside of opcode execution
// (e.g. from within a native).
func (m *Machine[U]) DataTranslate(va U) ([]U, error) {
	return m.mm.Data().Translate(va)
}

// CodeTranslate exposes the code memory manager's translation to the host.
func (m *Machine[U]) CodeTranslate(va U) ([]U, error) {
	return m.mm.Code().Translate(va)
}

// MapData maps buf into the data address space, returning its VA. This is
// how a native creates scratch memory to pass a guest-visible pointer,
// per the re-entrant native example in spec.md section 7 (supplemented
// features).
func (m *Machine[U]) MapData(buf []U) (U, error) {
	return m.mm.Data().Map(buf)
}

// UnmapData reverses a MapData.
func (m *Machine[U]) UnmapData(va U, size U) error {
	return m.mm.Data().Unmap(va, size)
}
