package loader

import (
	"encoding/binary"

	"github.com/namazso/PawnPP/cell"
)

const (
	headerSize = 60

	magic32 = 0xF1E0
	magic64 = 0xF1E1
	magic16 = 0xF1E2

	wantFileVersion = 11
	maxAMXVersion   = 11

	flagOverlay  = 1 << 0
	flagDebug    = 1 << 1
	flagNoChecks = 1 << 2
	flagSleep    = 1 << 3
	flagDsegInit = 1 << 5
)

// header is the parsed AMX v11 file header (spec.md section 6). Every
// field below is a 4-byte-or-smaller little-endian value regardless of
// the interpreter's own cell width -- these are file offsets and
// metadata, not guest cells.
type header struct {
	size        uint32
	magic       uint16
	fileVersion uint8
	amxVersion  uint8
	flags       uint16
	defsize     uint16

	cod, dat, hea, stp, cip uint32
	publics, natives        uint32
	libraries, pubvars      uint32
	tags                    uint32
}

// expectedMagic returns the file magic this interpreter's cell width
// requires (spec.md section 6: 0xF1E0/F1E1/F1E2 = 32/64/16-bit cells).
func expectedMagic[U cell.Unsigned]() uint16 {
	switch cell.Bits[U]() {
	case 32:
		return magic32
	case 64:
		return magic64
	case 16:
		return magic16
	default:
		return 0
	}
}

// parseHeader validates and decodes the AMX file header, in the order
// spec.md section 4.5 lists: size, magic, declared size, file version,
// AMX version, flags, defsize.
func parseHeader[U cell.Unsigned](buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, InvalidFile
	}

	h := header{
		size:        binary.LittleEndian.Uint32(buf[0:4]),
		magic:       binary.LittleEndian.Uint16(buf[4:6]),
		fileVersion: buf[6],
		amxVersion:  buf[7],
		flags:       binary.LittleEndian.Uint16(buf[8:10]),
		defsize:     binary.LittleEndian.Uint16(buf[10:12]),
		cod:         binary.LittleEndian.Uint32(buf[12:16]),
		dat:         binary.LittleEndian.Uint32(buf[16:20]),
		hea:         binary.LittleEndian.Uint32(buf[20:24]),
		stp:         binary.LittleEndian.Uint32(buf[24:28]),
		cip:         binary.LittleEndian.Uint32(buf[28:32]),
		publics:     binary.LittleEndian.Uint32(buf[32:36]),
		natives:     binary.LittleEndian.Uint32(buf[36:40]),
		libraries:   binary.LittleEndian.Uint32(buf[40:44]),
		pubvars:     binary.LittleEndian.Uint32(buf[44:48]),
		tags:        binary.LittleEndian.Uint32(buf[48:52]),
	}

	want := expectedMagic[U]()
	if h.magic != want {
		switch h.magic {
		case magic32, magic64, magic16:
			return header{}, WrongCellSize
		default:
			return header{}, InvalidFile
		}
	}
	if uint64(h.size) > uint64(len(buf)) {
		return header{}, InvalidFile
	}
	if h.fileVersion != wantFileVersion {
		return header{}, UnsupportedFileVersion
	}
	if h.amxVersion > maxAMXVersion {
		return header{}, UnsupportedAMXVersion
	}
	if h.flags&(flagOverlay|flagSleep) != 0 {
		return header{}, FeatureNotSupported
	}
	if h.defsize < 8 {
		return header{}, InvalidFile
	}
	return h, nil
}
