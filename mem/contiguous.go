package mem

import "github.com/namazso/PawnPP/cell"

// Contiguous is the simplest memory backing of spec.md section 4.2: a
// single (buf, size) mapping covering the whole address space it serves.
// It maps exactly once; a second Map call fails.
type Contiguous[U CellType] struct {
	buf    []U
	mapped bool
}

// NewContiguous creates an empty contiguous backing, ready for one Map call.
func NewContiguous[U CellType]() *Contiguous[U] {
	return &Contiguous[U]{}
}

// Translate implements Backing. Unlike Paged, no alignment check is
// performed here -- aligned access is enforced by the interpreter, per
// spec.md section 4.2.
func (c *Contiguous[U]) Translate(va U) ([]U, error) {
	if !c.mapped {
		return nil, ErrUnmapped
	}
	cb := U(cell.Bytes[U]())
	size := U(len(c.buf)) * cb
	if va >= size {
		return nil, ErrOutOfRange
	}
	return c.buf[va/cb:], nil
}

// Map implements Backing. Succeeds exactly once per instance.
func (c *Contiguous[U]) Map(buf []U) (U, error) {
	if c.mapped {
		return 0, errAlreadyMapped
	}
	c.buf = buf
	c.mapped = true
	return 0, nil
}

// Unmap implements Backing. Requires an exact match of the currently
// mapped range.
func (c *Contiguous[U]) Unmap(va U, size U) error {
	if !c.mapped {
		return ErrUnmapped
	}
	if va != 0 || int(size) != len(c.buf) {
		return ErrOutOfRange
	}
	c.buf = nil
	c.mapped = false
	return nil
}
