// Package mem implements the segmented, safety-checking virtual-address
// translators ("backings") and the memory manager that composes them for
// the code and data segments of a loaded AMX program.
//
// All host memory is borrowed: a Backing never allocates or frees the
// buffers it is given by Map, it only tracks which virtual addresses
// reach into them and validates every translation.
package mem

import (
	"github.com/pkg/errors"

	"github.com/namazso/PawnPP/cell"
)

// CellType is the constraint shared by every generic type in this package;
// it is simply cell.Unsigned re-exported so callers need not import both
// packages to write a Backing[U] or Manager[U].
type CellType = cell.Unsigned

// ErrUnaligned, ErrUnmapped and ErrOutOfRange are the translation failure
// reasons a Backing can report. The interpreter only distinguishes
// "translate failed"; these are kept distinct for diagnostics and tests.
var (
	ErrUnaligned  = errors.New("mem: address is not cell-aligned")
	ErrUnmapped   = errors.New("mem: address is not mapped")
	ErrOutOfRange = errors.New("mem: address is outside its mapping")
	ErrNoSpace    = errors.New("mem: no free range large enough for mapping")
	ErrBadSize    = errors.New("mem: invalid mapping size")

	errAlreadyMapped = errors.New("mem: backing already mapped")
)

// Backing translates a cell-sized virtual address to a location within a
// host-owned buffer. Implementations are the three variants of spec.md
// section 4: paged buffers, contiguous, and partial address space.
//
// Translate returns the sub-slice of the mapped host buffer starting at
// va. The interpreter only reads or writes index 0 of the result; the
// block opcodes (MOVS/CMPS/FILL) translate each cell separately.
//
// Map installs buf (of len(buf) cells) at a backing-assigned VA and
// returns that VA. Unmap clears size cells' worth of mappings starting at
// va; unmapping a range that was never mapped is unspecified, matching
// spec.md section 4.1, and its effect differs between backings (none of
// them panics).
type Backing[U CellType] interface {
	Translate(va U) ([]U, error)
	Map(buf []U) (U, error)
	Unmap(va U, size U) error
}
