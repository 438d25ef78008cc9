package mem

import (
	"github.com/namazso/PawnPP/cell"
)

// slot is one page-sized entry in a Paged backing's mapping table. An
// empty slot has a nil buf.
type slot[U CellType] struct {
	buf []U
}

// Paged is the paged-buffers memory backing of spec.md section 4.1: the
// address space is split into 2^IndexBits pages, each of which can hold a
// sub-range of exactly one mapped buffer. It lets a host map several
// disjoint buffers (code, data, guest stack/heap, scratch) into one
// virtual address space without reserving a full 2^W byte image.
type Paged[U CellType] struct {
	indexBits  uint
	offsetBits uint
	pageSize   U // in bytes
	slots      []slot[U]
}

// NewPaged creates a paged backing with 2^indexBits pages. indexBits must
// be in [1, W] where W is the bit width of U; this mirrors the
// static_asserts in the reference implementation.
func NewPaged[U CellType](indexBits int) *Paged[U] {
	w := cell.Bits[U]()
	if indexBits < 1 || indexBits > w {
		panic("mem: indexBits out of range")
	}
	offsetBits := w - indexBits
	pageCount := U(1) << uint(indexBits)
	return &Paged[U]{
		indexBits:  uint(indexBits),
		offsetBits: uint(offsetBits),
		pageSize:   U(1) << uint(offsetBits),
		slots:      make([]slot[U], pageCount),
	}
}

func (p *Paged[U]) pageIndex(va U) U { return va >> p.offsetBits }

func (p *Paged[U]) pageOffset(va U) U {
	return va & (p.pageSize - 1)
}

func (p *Paged[U]) makeVA(index U) U { return index << p.offsetBits }

// Translate implements Backing.
func (p *Paged[U]) Translate(va U) ([]U, error) {
	cb := U(cell.Bytes[U]())
	if va%cb != 0 {
		return nil, ErrUnaligned
	}
	idx := p.pageIndex(va)
	s := &p.slots[idx]
	if s.buf == nil {
		return nil, ErrUnmapped
	}
	off := p.pageOffset(va)
	if int(off) >= len(s.buf)*int(cb) {
		return nil, ErrOutOfRange
	}
	return s.buf[off/cb:], nil
}

// Map implements Backing. Allocation is lowest-fit: the first run of
// consecutive empty pages long enough to hold the buffer is used; this
// determinism is part of the contract (spec.md section 4.1).
func (p *Paged[U]) Map(buf []U) (U, error) {
	cb := U(cell.Bytes[U]())
	if len(buf) == 0 {
		// highest valid aligned address
		return ^U(0) / cb * cb, nil
	}

	sizeBytes := U(len(buf)) * cb
	count := (sizeBytes + p.pageSize - 1) / p.pageSize

	var inARow U
	var index U
	found := false
	for {
		if p.slots[index].buf != nil {
			inARow = 0
		} else {
			inARow++
		}
		if inARow == count {
			found = true
			break
		}
		index++
		if index == 0 || int(index) == len(p.slots) {
			break
		}
	}
	if !found {
		return 0, ErrNoSpace
	}

	start := index - count + 1
	for i := U(0); i < count; i++ {
		off := p.pageSize / cb * i
		p.slots[start+i] = slot[U]{buf: buf[off:]}
	}
	return p.makeVA(start), nil
}

// Unmap implements Backing.
func (p *Paged[U]) Unmap(va U, size U) error {
	cb := U(cell.Bytes[U]())
	if size == 0 {
		return nil
	}
	idx := p.pageIndex(va)
	sizeBytes := size * cb
	count := (sizeBytes + p.pageSize - 1) / p.pageSize
	for i := U(0); i < count; i++ {
		if int(idx+i) >= len(p.slots) {
			break
		}
		p.slots[idx+i] = slot[U]{}
	}
	return nil
}
