package loader

import (
	"encoding/binary"

	"github.com/namazso/PawnPP/cell"
)

// symbol is one row of a public/pubvar table: a name paired with the VA
// it resolves to (spec.md section 4.5 "Symbol tables").
type symbol[U cell.Unsigned] struct {
	name string
	addr U
}

// readCString reads a NUL-terminated ASCII name starting at ofs, per
// spec.md section 6 ("NUL-terminated ASCII in-file"). The terminator
// must exist inside buf.
func readCString(buf []byte, ofs uint32) (string, error) {
	if uint64(ofs) > uint64(len(buf)) {
		return "", InvalidFile
	}
	end := ofs
	for int(end) < len(buf) && buf[end] != 0 {
		end++
	}
	if int(end) >= len(buf) {
		return "", InvalidFile
	}
	return string(buf[ofs:end]), nil
}

// readSymbols reads address+nameofs records of width defsize from
// [begin, end), per spec.md section 4.5 and section 6 ("4-byte address +
// 4-byte name offset").
func readSymbols[U cell.Unsigned](buf []byte, begin, end uint32, defsize uint16) ([]symbol[U], error) {
	records, err := sliceRecords(buf, begin, end, defsize)
	if err != nil {
		return nil, err
	}
	out := make([]symbol[U], 0, len(records))
	for _, rec := range records {
		addr := binary.LittleEndian.Uint32(rec[0:4])
		nameofs := binary.LittleEndian.Uint32(rec[4:8])
		name, err := readCString(buf, nameofs)
		if err != nil {
			return nil, err
		}
		out = append(out, symbol[U]{name: name, addr: U(addr)})
	}
	return out, nil
}

// readNativeNames reads the name of each native-table record in
// [begin, end): only the name offset is meaningful (the on-disk address
// field is unused for natives, per the reference loader).
func readNativeNames(buf []byte, begin, end uint32, defsize uint16) ([]string, error) {
	records, err := sliceRecords(buf, begin, end, defsize)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		nameofs := binary.LittleEndian.Uint32(rec[4:8])
		name, err := readCString(buf, nameofs)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// sliceRecords splits buf[begin:end] into defsize-wide records, failing
// if the range doesn't fit inside buf or isn't an exact multiple of
// defsize.
func sliceRecords(buf []byte, begin, end uint32, defsize uint16) ([][]byte, error) {
	if begin > end || uint64(end) > uint64(len(buf)) {
		return nil, InvalidFile
	}
	if defsize < 8 {
		return nil, InvalidFile
	}
	size := end - begin
	if size%uint32(defsize) != 0 {
		return nil, InvalidFile
	}
	n := size / uint32(defsize)
	out := make([][]byte, n)
	for i := uint32(0); i < n; i++ {
		off := begin + i*uint32(defsize)
		out[i] = buf[off : off+uint32(defsize)]
	}
	return out, nil
}

// selectCells decodes buf[begin:end] as a slice of little-endian cells,
// per spec.md section 4.5 ("Each must be CB-aligned in length and inside
// the buffer. Cell-by-cell byteswap on big-endian hosts" -- decoding
// explicitly as little-endian, rather than relying on host order plus a
// conditional byteswap, makes the byteswap step unnecessary here).
func selectCells[U cell.Unsigned](buf []byte, begin, end uint32) ([]U, error) {
	if begin > end || uint64(end) > uint64(len(buf)) {
		return nil, InvalidFile
	}
	cb := uint32(cell.Bytes[U]())
	size := end - begin
	if size%cb != 0 {
		return nil, InvalidFile
	}
	n := size / cb
	out := make([]U, n)
	for i := uint32(0); i < n; i++ {
		out[i] = cell.ReadLE[U](buf[begin+i*cb:])
	}
	return out, nil
}
