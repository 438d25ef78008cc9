package mem

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/namazso/PawnPP/cell"
)

// Partial is the partial-address-space backing of spec.md section 4.3, for
// hosts where the guest's address space fits in the low ValidBits bits of
// a host pointer. The guest VA's low bits are identity-mapped onto the
// host buffer's low bits; the buffer's high bits ("backing bits") are
// spliced in on every translation.
type Partial[U CellType] struct {
	validBits   uint
	offsetMask  U
	backingBits uintptr
	base        uintptr
	buf         []U
	mapped      bool
}

// NewPartial creates a partial address-space backing masking the low
// validBits bits of a virtual address.
func NewPartial[U CellType](validBits int) *Partial[U] {
	w := cell.Bits[U]()
	if validBits < 1 || validBits > w {
		panic("mem: validBits out of range")
	}
	return &Partial[U]{
		validBits:  uint(validBits),
		offsetMask: (U(1) << uint(validBits)) - 1,
	}
}

// Map implements Backing. buf must be naturally aligned to 2^ValidBits
// bytes and large enough to cover the masked address range.
func (p *Partial[U]) Map(buf []U) (U, error) {
	if p.mapped {
		return 0, errAlreadyMapped
	}
	if len(buf) == 0 {
		return 0, ErrBadSize
	}
	cb := cell.Bytes[U]()
	base := uintptr(unsafe.Pointer(&buf[0]))
	align := uintptr(1) << p.validBits
	if base&(align-1) != 0 {
		return 0, errors.New("mem: buffer is not aligned to 2^ValidBits")
	}
	if uintptr(len(buf)*cb) < uintptr(p.offsetMask)+1 {
		return 0, ErrBadSize
	}
	p.buf = buf
	p.base = base
	p.backingBits = base &^ uintptr(p.offsetMask)
	p.mapped = true
	return U(base) & p.offsetMask, nil
}

// Translate implements Backing.
func (p *Partial[U]) Translate(va U) ([]U, error) {
	if !p.mapped {
		return nil, ErrUnmapped
	}
	cb := U(cell.Bytes[U]())
	if va%cb != 0 {
		return nil, ErrUnaligned
	}
	addr := uintptr(va&p.offsetMask) | p.backingBits
	if addr < p.base {
		return nil, ErrOutOfRange
	}
	idx := (addr - p.base) / uintptr(cb)
	if idx >= uintptr(len(p.buf)) {
		return nil, ErrOutOfRange
	}
	return p.buf[idx:], nil
}

// Unmap implements Backing.
func (p *Partial[U]) Unmap(va U, size U) error {
	if !p.mapped {
		return ErrUnmapped
	}
	p.buf = nil
	p.mapped = false
	return nil
}
