// Package loader parses AMX v11 files and installs them into a
// vm.Machine: it validates the header, extracts the code and data
// segments, reserves heap space, resolves native names against a
// host-supplied table, and publishes the public/pubvar symbol tables
// (spec.md section 4.5). Everything downstream of installation --
// actually running the program -- is the vm package's job.
package loader

import (
	"github.com/pkg/errors"

	"github.com/namazso/PawnPP/cell"
	"github.com/namazso/PawnPP/mem"
	"github.com/namazso/PawnPP/vm"
)

// NativeFunc is a host-implemented native function: given the machine,
// the argument count and the VA of the first argument cell, it returns
// the cell to deposit in PRI. This is the Go shape of the abstract
// "(vm, loader, user, argc, args_va, &retval) -> error" signature in
// spec.md section 6 -- "loader" and "user" are left to closures, which
// is the idiomatic Go substitute for a raw user-data pointer.
type NativeFunc[U cell.Unsigned] func(m *vm.Machine[U], argc U, argv U) (U, error)

// HookFunc is the single-step/break upcall shape: spec.md section 4.6's
// two non-native upcalls carry no payload beyond the machine itself.
type HookFunc[U cell.Unsigned] func(m *vm.Machine[U]) error

// config holds the pieces of Load that have sensible defaults but can be
// overridden by an Option, generalizing the teacher's vm.Option pattern
// (vm.DataSize, vm.AddressSize, ...) to this package's concerns.
type config[U cell.Unsigned] struct {
	codeBacking mem.Backing[U]
	dataBacking mem.Backing[U]
	onStep      HookFunc[U]
	onBreak     HookFunc[U]
}

// Option configures a Load call.
type Option[U cell.Unsigned] func(*config[U])

// WithBackings overrides the default paged memory backings used for the
// code and data segments -- for example, a Contiguous backing when the
// host knows the program will never grow its heap past the file's
// declared size, or a Partial backing to identity-map guest data onto a
// host buffer.
func WithBackings[U cell.Unsigned](code, data mem.Backing[U]) Option[U] {
	return func(c *config[U]) {
		c.codeBacking = code
		c.dataBacking = data
	}
}

// WithSingleStep registers the single-step upcall (spec.md section 4.6,
// callback index -1).
func WithSingleStep[U cell.Unsigned](fn HookFunc[U]) Option[U] {
	return func(c *config[U]) { c.onStep = fn }
}

// WithBreak registers the break upcall (spec.md section 4.6, callback
// index -2).
func WithBreak[U cell.Unsigned](fn HookFunc[U]) Option[U] {
	return func(c *config[U]) { c.onBreak = fn }
}

// defaultIndexBits picks a page-table split for the default Paged
// backings: half the address width, capped at 16 bits because Paged
// allocates all 2^indexBits slots up front. That leaves headroom for both
// many small mappings (scratch buffers a native maps, per spec.md section
// 7's re-entrancy example) and the one large initial segment mapping.
func defaultIndexBits[U cell.Unsigned]() int {
	w := cell.Bits[U]()
	bits := w / 2
	if bits > 16 {
		bits = 16
	}
	if bits < 1 {
		bits = 1
	}
	return bits
}

// Loaded is the result of a successful Load: the installed machine plus
// the symbol tables the host uses to find entry points and variables.
type Loaded[U cell.Unsigned] struct {
	Machine *vm.Machine[U]
	Main    U

	publics map[string]U
	pubvars map[string]U
}

// Public returns the code VA of the named public function, per spec.md
// section 6 get_public.
func (l *Loaded[U]) Public(name string) (U, bool) {
	v, ok := l.publics[name]
	return v, ok
}

// Pubvar returns the data VA of the named public variable, per spec.md
// section 6 get_pubvar.
func (l *Loaded[U]) Pubvar(name string) (U, bool) {
	v, ok := l.pubvars[name]
	return v, ok
}

// Load parses buf as an AMX v11 file for cell width U, resolves every
// native name against natives, and installs the result into a freshly
// constructed vm.Machine, per spec.md section 4.5.
func Load[U cell.Unsigned](buf []byte, natives map[string]NativeFunc[U], opts ...Option[U]) (*Loaded[U], error) {
	h, err := parseHeader[U](buf)
	if err != nil {
		return nil, err
	}

	cfg := config[U]{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.codeBacking == nil {
		cfg.codeBacking = mem.NewPaged[U](defaultIndexBits[U]())
	}
	if cfg.dataBacking == nil {
		cfg.dataBacking = mem.NewPaged[U](defaultIndexBits[U]())
	}

	code, err := selectCells[U](buf, h.cod, h.dat)
	if err != nil {
		return nil, errors.Wrap(err, "loader: code segment")
	}
	data, err := selectCells[U](buf, h.dat, h.hea)
	if err != nil {
		return nil, errors.Wrap(err, "loader: data segment")
	}

	dataOldSize := uint32(len(data))
	cb := uint32(cell.Bytes[U]())
	extraBytes := (h.stp - h.hea) + cb - 1
	extraCells := extraBytes / cb
	data = append(data, make([]U, extraCells)...)

	main := U(h.cip)
	if h.cip == 0xFFFFFFFF {
		main = 0
	}

	publics, err := readSymbols[U](buf, h.publics, h.natives, h.defsize)
	if err != nil {
		return nil, errors.Wrap(err, "loader: publics table")
	}
	nativeNames, err := readNativeNames(buf, h.natives, h.libraries, h.defsize)
	if err != nil {
		return nil, errors.Wrap(err, "loader: natives table")
	}
	if h.libraries != h.pubvars {
		return nil, FeatureNotSupported
	}
	pubvars, err := readSymbols[U](buf, h.pubvars, h.tags, h.defsize)
	if err != nil {
		return nil, errors.Wrap(err, "loader: pubvars table")
	}

	resolved := make([]NativeFunc[U], len(nativeNames))
	for i, name := range nativeNames {
		fn, ok := natives[name]
		if !ok {
			return nil, errors.Wrapf(NativeNotResolved, "native %q", name)
		}
		resolved[i] = fn
	}

	publicsMap := make(map[string]U, len(publics))
	for _, s := range publics {
		publicsMap[s.name] = s.addr
	}
	pubvarsMap := make(map[string]U, len(pubvars))
	for _, s := range pubvars {
		pubvarsMap[s.name] = s.addr
	}

	mm := mem.Harvard[U](cfg.codeBacking, cfg.dataBacking)

	dispatch := func(mc *vm.Machine[U], index int64, stk U) error {
		switch index {
		case vm.CBIDSingleStep:
			if cfg.onStep != nil {
				return cfg.onStep(mc)
			}
			return nil
		case vm.CBIDBreak:
			if cfg.onBreak != nil {
				return cfg.onBreak(mc)
			}
			return nil
		default:
			if index < 0 || int(index) >= len(resolved) {
				return vm.InvalidOperand
			}
			argcPtr, err := mc.DataTranslate(stk)
			if err != nil {
				return vm.AccessViolation
			}
			argc := argcPtr[0] / U(cb)
			argv := stk + U(cb)
			ret, err := resolved[index](mc, argc, argv)
			if err != nil {
				return err
			}
			mc.PRI = ret
			return nil
		}
	}
	m := vm.New[U](mm, dispatch)

	codeVA, err := mm.Code().Map(code)
	if err != nil {
		return nil, errors.Wrap(err, "loader: map code")
	}
	dataVA, err := mm.Data().Map(data)
	if err != nil {
		return nil, errors.Wrap(err, "loader: map data")
	}

	m.COD = codeVA
	m.DAT = dataVA
	m.STK = U(uint64(len(data)-1) * uint64(cb))
	m.STP = m.STK
	m.HEA = U(uint64(dataOldSize) * uint64(cb))

	return &Loaded[U]{
		Machine: m,
		Main:    main,
		publics: publicsMap,
		pubvars: pubvarsMap,
	}, nil
}
