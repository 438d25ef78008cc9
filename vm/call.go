package vm

import "github.com/namazso/PawnPP/cell"

// callRaw runs the instruction loop starting at cip, firing the
// single-step upcall before every instruction, per spec.md sections 4.6
// and 4.7.
//
// The PAWN compiler places a HALT opcode at code address 0, and Call has
// already pushed a zero return address onto the stack before jumping to
// the entry point (see Call): when the entry function's RET/RETN pops
// that sentinel CIP, CIP becomes 0 and the loop below stops *before*
// fetching the instruction there, exactly as the reference call_raw does
// (it checks "CIP != invalid_cip" ahead of every step, not after). The
// address-0 HALT is therefore never actually executed on this path --
// it is dead code kept only because the compiler always emits it -- and
// a function that returns normally reports success with PRI holding its
// real return value, not the HALT's fixed operand. An explicit HALT
// reached anywhere else (mid-function, or because the host calls a cip
// that is itself a HALT instruction) still ends the loop immediately
// with error Halt and PRI set to that HALT's operand, per step's normal
// opcode semantics; this is the "explicit program termination" case
// spec.md section 4.9 says should not be treated as a failure at the VM
// boundary. See DESIGN.md for the full resolution of this ambiguity.
func (m *Machine[U]) callRaw(cip U) (U, error) {
	m.CIP = cip
	for m.CIP != 0 {
		if err := m.fireCallback(CBIDSingleStep, m.STK); err != nil {
			return m.PRI, err
		}
		if err := m.step(); err != nil {
			return m.PRI, err
		}
	}
	return m.PRI, nil
}

// Call invokes the public function at cip with args pushed in the order
// given (spec.md section 4.7: "file order, same order as received" --
// callers decide whether that is left-to-right or right-to-left before
// calling Call). It pushes the pushed-byte-size cell and the sentinel
// return CIP itself; the caller does not need to.
//
// Call is safely re-entrant: a native invoked from within this call may
// itself call Call again (see spec.md section 7, the native-re-entrancy
// example); ALT/FRM/CIP/STP/STK are isolated across the nesting by the
// callback snapshot/restore, and PRI is the sole channel a native uses to
// report its result.
func (m *Machine[U]) Call(cip U, args ...U) (U, error) {
	var size U
	for _, a := range args {
		if err := m.Push(a); err != nil {
			return 0, err
		}
		size += m.cellBytes()
	}
	if err := m.Push(size); err != nil {
		return 0, err
	}
	if err := m.Push(0); err != nil {
		return 0, err
	}
	return m.callRaw(cip)
}

// signed is a small convenience wrapper around cell.ToSigned/FromSigned
// scoped to this Machine's cell type, used throughout step.go.
func signed[U cell.Unsigned](v U) int64   { return cell.ToSigned(v) }
func unsigned[U cell.Unsigned](v int64) U { return cell.FromSigned[U](v) }
