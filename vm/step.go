package vm

import "github.com/namazso/PawnPP/cell"

// fetchOpcode fetches the opcode cell at CIP and advances CIP by one cell,
// per spec.md section 4.7 step 1.
func (m *Machine[U]) fetchOpcode() (opcode, error) {
	p, err := m.codePtr(m.CIP)
	if err != nil {
		return 0, err
	}
	m.CIP += m.cellBytes()
	return opcode(p[0]), nil
}

// fetchOperand fetches the operand cell following an opcode, per spec.md
// section 4.7 step 2. A short encoding (operand past the end of the code
// segment) is reported as AccessViolationCode, same as any other code
// fetch failure.
func (m *Machine[U]) fetchOperand() (U, error) {
	p, err := m.codePtr(m.CIP)
	if err != nil {
		return 0, err
	}
	m.CIP += m.cellBytes()
	return p[0], nil
}

// step executes exactly one instruction, per spec.md sections 4.7-4.8.
func (m *Machine[U]) step() error {
	cb := m.cellBytes()
	op, err := m.fetchOpcode()
	if err != nil {
		return err
	}

	switch op {
	case opNop:
		// no-op

	case opLoadPri, opLoadAlt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(operand)
		if err != nil {
			return err
		}
		if op == opLoadPri {
			m.PRI = p[0]
		} else {
			m.ALT = p[0]
		}

	case opLoadSPri, opLoadSAlt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(m.FRM + operand)
		if err != nil {
			return err
		}
		if op == opLoadSPri {
			m.PRI = p[0]
		} else {
			m.ALT = p[0]
		}

	case opLrefSPri, opLrefSAlt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(m.FRM + operand)
		if err != nil {
			return err
		}
		p2, err := m.dataPtr(p[0])
		if err != nil {
			return err
		}
		if op == opLrefSPri {
			m.PRI = p2[0]
		} else {
			m.ALT = p2[0]
		}

	case opLoadI:
		p, err := m.dataPtr(m.PRI)
		if err != nil {
			return err
		}
		m.PRI = p[0]

	case opLodbI:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		k := int(operand)
		if k != 1 && k != 2 && k != 4 {
			return InvalidOperand
		}
		cb := m.cellBytes()
		shift := int(m.PRI % cb)
		if shift+k > int(cb) {
			return InvalidOperand
		}
		p, err := m.dataPtr(m.PRI - U(shift))
		if err != nil {
			return err
		}
		m.PRI = (p[0] >> uint(shift*8)) & cell.Mask[U](k)

	case opConstPri, opConstAlt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if op == opConstPri {
			m.PRI = operand
		} else {
			m.ALT = operand
		}

	case opAddrPri, opAddrAlt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if op == opAddrPri {
			m.PRI = m.FRM + operand
		} else {
			m.ALT = m.FRM + operand
		}

	case opStor:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(operand)
		if err != nil {
			return err
		}
		p[0] = m.PRI

	case opStorS:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(m.FRM + operand)
		if err != nil {
			return err
		}
		p[0] = m.PRI

	case opSrefS:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(m.FRM + operand)
		if err != nil {
			return err
		}
		p2, err := m.dataPtr(p[0])
		if err != nil {
			return err
		}
		p2[0] = m.PRI

	case opStorI:
		p, err := m.dataPtr(m.ALT)
		if err != nil {
			return err
		}
		p[0] = m.PRI

	case opStrbI:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		k := int(operand)
		mask := cell.Mask[U](k)
		if mask == 0 {
			return InvalidOperand
		}
		cb := m.cellBytes()
		shift := int(m.ALT % cb)
		if shift+k > int(cb) {
			return InvalidOperand
		}
		p, err := m.dataPtr(m.ALT - U(shift))
		if err != nil {
			return err
		}
		shiftedMask := mask << uint(shift*8)
		p[0] = (p[0] &^ shiftedMask) | ((m.PRI & mask) << uint(shift*8))

	case opAlignPri:
		// no-op: little-endian only target, per spec.md section 9.

	case opLctrl:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		switch operand {
		case 0:
			m.PRI = m.COD
		case 1:
			m.PRI = m.DAT
		case 2:
			m.PRI = m.HEA
		case 3:
			m.PRI = m.STP
		case 4:
			m.PRI = m.STK
		case 5:
			m.PRI = m.FRM
		case 6:
			m.PRI = m.CIP
		default:
			return InvalidOperand
		}

	case opSctrl:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		switch operand {
		case 2:
			m.HEA = m.PRI
		case 4:
			m.STK = m.PRI
		case 5:
			m.FRM = m.PRI
		case 6:
			m.CIP = m.PRI
		default:
			return InvalidOperand
		}

	case opXchg:
		m.PRI, m.ALT = m.ALT, m.PRI

	case opPushPri:
		return m.Push(m.PRI)

	case opPushAlt:
		return m.Push(m.ALT)

	case opPushrPri:
		return m.Push(m.PRI + m.DAT)

	case opPopPri:
		v, err := m.Pop()
		if err != nil {
			return err
		}
		m.PRI = v

	case opPopAlt:
		v, err := m.Pop()
		if err != nil {
			return err
		}
		m.ALT = v

	case opPick:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		p, err := m.dataPtr(m.STK + operand)
		if err != nil {
			return err
		}
		m.PRI = p[0]

	case opStack:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		m.STK = unsigned[U](signed(m.STK) + signed(operand))
		m.ALT = m.STK

	case opHeap:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		m.ALT = m.HEA
		m.HEA += operand

	case opProc:
		if err := m.Push(m.FRM); err != nil {
			return err
		}
		m.FRM = m.STK

	case opRet:
		frm, err := m.Pop()
		if err != nil {
			return err
		}
		cip, err := m.Pop()
		if err != nil {
			return err
		}
		m.FRM, m.CIP = frm, cip

	case opRetn:
		frm, err := m.Pop()
		if err != nil {
			return err
		}
		cip, err := m.Pop()
		if err != nil {
			return err
		}
		m.FRM, m.CIP = frm, cip
		p, err := m.dataPtr(m.STK)
		if err != nil {
			return err
		}
		m.STK += p[0] + cb

	case opCall:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if err := m.Push(m.CIP); err != nil {
			return err
		}
		m.CIP = m.CIP - 2*cb + operand

	case opJump:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		m.CIP = m.CIP - 2*cb + operand

	case opJzer:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if m.PRI == 0 {
			m.CIP = m.CIP - 2*cb + operand
		}

	case opJnz:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if m.PRI != 0 {
			m.CIP = m.CIP - 2*cb + operand
		}

	case opShl:
		m.PRI = m.PRI << m.ALT

	case opShr:
		m.PRI = m.PRI >> m.ALT

	case opSshr:
		m.PRI = unsigned[U](signed(m.PRI) >> m.ALT)

	case opShlCPri:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		m.PRI <<= operand

	case opShlCAlt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		m.ALT <<= operand

	case opSmul:
		m.PRI = unsigned[U](signed(m.PRI) * signed(m.ALT))

	case opSdiv:
		if m.PRI == 0 {
			return DivisionWithZero
		}
		d, v := signed(m.ALT), signed(m.PRI)
		q := d / v
		r := d - q*v
		if r != 0 && (r < 0) != (v < 0) {
			q--
			r += v
		}
		m.PRI, m.ALT = unsigned[U](q), unsigned[U](r)

	case opAdd:
		m.PRI += m.ALT

	case opSub:
		m.PRI = m.ALT - m.PRI

	case opAnd:
		m.PRI &= m.ALT

	case opOr:
		m.PRI |= m.ALT

	case opXor:
		m.PRI ^= m.ALT

	case opNot:
		if m.PRI == 0 {
			m.PRI = 1
		} else {
			m.PRI = 0
		}

	case opNeg:
		m.PRI = unsigned[U](-signed(m.PRI))

	case opInvert:
		m.PRI = ^m.PRI

	case opEq:
		m.PRI = boolCell[U](m.PRI == m.ALT)

	case opNeq:
		m.PRI = boolCell[U](m.PRI != m.ALT)

	case opSless:
		m.PRI = boolCell[U](signed(m.PRI) < signed(m.ALT))

	case opSleq:
		m.PRI = boolCell[U](signed(m.PRI) <= signed(m.ALT))

	case opSgrtr:
		m.PRI = boolCell[U](signed(m.PRI) > signed(m.ALT))

	case opSgeq:
		m.PRI = boolCell[U](signed(m.PRI) >= signed(m.ALT))

	case opIncPri:
		m.PRI++

	case opIncAlt:
		m.ALT++

	case opIncI:
		p, err := m.dataPtr(m.PRI)
		if err != nil {
			return err
		}
		p[0]++

	case opDecPri:
		m.PRI--

	case opDecAlt:
		m.ALT--

	case opDecI:
		p, err := m.dataPtr(m.PRI)
		if err != nil {
			return err
		}
		p[0]--

	case opMovs:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		n := int(operand / cb)
		for i := 0; i < n; i++ {
			src, err := m.dataPtr(m.PRI + U(i)*cb)
			if err != nil {
				return err
			}
			v := src[0]
			dst, err := m.dataPtr(m.ALT + U(i)*cb)
			if err != nil {
				return err
			}
			dst[0] = v
		}

	case opCmps:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		n := int(operand / cb)
		priBase, altBase := m.PRI, m.ALT
		m.PRI = 0
		for i := 0; i < n && m.PRI == 0; i++ {
			src, err := m.dataPtr(priBase + U(i)*cb)
			if err != nil {
				return err
			}
			v := src[0]
			dst, err := m.dataPtr(altBase + U(i)*cb)
			if err != nil {
				return err
			}
			m.PRI = dst[0] - v
		}

	case opFill:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		n := int(operand / cb)
		for i := 0; i < n; i++ {
			dst, err := m.dataPtr(m.ALT + U(i)*cb)
			if err != nil {
				return err
			}
			dst[0] = m.PRI
		}

	case opHalt:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		m.PRI = operand
		return Halt

	case opBounds:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if m.PRI > operand {
			return Bounds
		}

	case opSysreq:
		operand, err := m.fetchOperand()
		if err != nil {
			return err
		}
		if err := m.fireCallback(int64(operand), m.STK); err != nil {
			return err
		}

	case opSwitch:
		return m.doSwitch(cb)

	case opSwapPri:
		p, err := m.dataPtr(m.STK)
		if err != nil {
			return err
		}
		p[0], m.PRI = m.PRI, p[0]

	case opSwapAlt:
		p, err := m.dataPtr(m.STK)
		if err != nil {
			return err
		}
		p[0], m.ALT = m.ALT, p[0]

	case opBreak:
		if err := m.fireCallback(CBIDBreak, m.STK); err != nil {
			return err
		}

	default:
		return InvalidInstruction
	}

	return nil
}

// doSwitch implements the SWITCH opcode: the operand points at a
// CASETBL record immediately followed by a record count, a default CIP
// (relative), and that many (test-value, case-CIP) pairs, scanned
// linearly; first match wins, per spec.md section 4.8.
func (m *Machine[U]) doSwitch(cb U) error {
	operand, err := m.fetchOperand()
	if err != nil {
		return err
	}
	casetbl := m.CIP - 2*cb + operand

	marker, err := m.codePtr(casetbl)
	if err != nil {
		return err
	}
	if opcode(marker[0]) != opCasetbl {
		return InvalidOperand
	}
	casetbl += cb

	count, err := m.codePtr(casetbl)
	if err != nil {
		return err
	}
	recordCount := count[0]
	casetbl += cb

	defAddr := casetbl
	defCIP, err := m.codePtr(casetbl)
	if err != nil {
		return err
	}
	m.CIP = defAddr + defCIP[0]
	casetbl += cb

	for ; recordCount > 0; recordCount-- {
		testVal, err := m.codePtr(casetbl)
		if err != nil {
			return err
		}
		tv := testVal[0]
		casetbl += cb

		matchAddr := casetbl
		matchCIP, err := m.codePtr(casetbl)
		if err != nil {
			return err
		}
		mc := matchCIP[0]
		casetbl += cb

		if m.PRI == tv {
			m.CIP = matchAddr + mc
			break
		}
	}
	return nil
}

// boolCell narrows a Go bool to the cell-typed 0/1 result the comparison
// opcodes produce.
func boolCell[U cell.Unsigned](b bool) U {
	if b {
		return 1
	}
	return 0
}
