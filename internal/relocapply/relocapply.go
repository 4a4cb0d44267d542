// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relocapply patches every live input section's relocations with
// their final values (spec.md §4.10): computing S, A, P (and GOT/PLT/TP
// where needed) for each relocation and writing the result into the
// section's output bytes using the target's byte order and word width.
//
// A Target's RelocSet (internal/arch) decides what a given relocation type
// means; this package never special-cases a machine by name, only by the
// RelocAction and flags its RelocSet reports, so adding a new target means
// adding a RelocSet, not touching this package.
package relocapply

import (
	"fmt"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/chunk"
	"github.com/uk0/mold/internal/objfile"
)

// SymbolValue resolves a symbol reference to the address it has in the
// linked output, consulting GOT/PLT/copy-relocation state the caller is
// responsible for building up front (spec.md §4.4's Symbol.NeedsGOT etc.
// flags).
type SymbolValue struct {
	// Resolve returns the final address of sym's definition. For a
	// symbol satisfied by a shared object (no Section), callers must
	// arrange a copy relocation or PLT stub and report that address
	// here instead.
	Resolve func(sym *objfile.Symbol) (addr uint64, ok bool)
	// GOTAddr/PLTAddr/TPOffset return the address of sym's GOT slot, PLT
	// stub, or TLS offset respectively, when the relocation's RelocInfo
	// demands one.
	GOTAddr   func(sym *objfile.Symbol) (uint64, bool)
	PLTAddr   func(sym *objfile.Symbol) (uint64, bool)
	TPOffset  func(sym *objfile.Symbol) (uint64, bool)
	DTPOffset func(sym *objfile.Symbol) (uint64, bool)
}

// Error records one relocation that could not be applied. Apply collects
// every such error instead of stopping at the first, matching the
// teacher's style of reporting every objfile read error at once rather
// than failing fast (spec.md §7).
type Error struct {
	Section *objfile.InputSection
	Reloc   objfile.Reloc
	Msg     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: relocation %s: %s", e.Section, e.Reloc.String(), e.Msg)
}

// Apply patches every relocation in every live section, writing into image
// (the whole output file's backing bytes, as mmapped by internal/writer).
// Each section's patch location is derived from its OutputSection's file
// Offset, not its virtual address: the two diverge once a non-SHF_ALLOC
// section is present, since layout only advances the address counter for
// allocatable sections (internal/layout.assignAddrs). It returns every
// relocation it could not apply; a non-empty result is a fatal link error.
func Apply(sections []*objfile.InputSection, target *arch.Target, vals SymbolValue, image []byte) []error {
	rs := arch.RelocSetFor(target)
	var errs []error

	for _, s := range sections {
		if !s.Alive() || s.ICFRepresentative != nil {
			continue
		}
		if !s.CanHaveRelocs() || len(s.Relocs) == 0 {
			continue
		}
		if rs == nil {
			errs = append(errs, &Error{Section: s, Msg: fmt.Sprintf("target %s has no relocation support", target)})
			continue
		}
		out, ok := s.Output.(*chunk.OutputSection)
		if !ok {
			errs = append(errs, &Error{Section: s, Msg: "section was never assigned an output chunk"})
			continue
		}
		fileOff := out.Offset + s.OutputOffset
		for _, r := range s.Relocs {
			if err := applyOne(s, r, rs, target.Layout, vals, image, fileOff); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func applyOne(s *objfile.InputSection, r objfile.Reloc, rs *arch.RelocSet, layout arch.Layout, vals SymbolValue, image []byte, sectionFileOff uint64) error {
	info, ok := rs.Lookup(r.Type)
	if !ok {
		return &Error{s, r, fmt.Sprintf("unsupported relocation type %d", r.Type)}
	}
	if info.Action == arch.RelNone {
		return nil
	}

	P := s.OutputAddr + r.Addr
	var S uint64
	var sym *objfile.Symbol
	if r.Symbol != objfile.NoSymID {
		sym = s.File.Sym(r.Symbol)
		if sym == nil {
			return &Error{s, r, "relocation references an out-of-range symbol"}
		}
	}

	switch info.Action {
	case arch.RelAbs, arch.RelPCRel, arch.RelRelative, arch.RelCopy, arch.RelIRelative:
		if sym != nil {
			addr, ok := vals.Resolve(sym)
			if !ok {
				return &Error{s, r, fmt.Sprintf("undefined symbol %q", sym.Name)}
			}
			S = addr
		}
	case arch.RelGOT:
		if sym == nil || vals.GOTAddr == nil {
			return &Error{s, r, "GOT relocation with no GOT builder"}
		}
		addr, ok := vals.GOTAddr(sym)
		if !ok {
			return &Error{s, r, fmt.Sprintf("no GOT slot reserved for %q", sym.Name)}
		}
		S = addr
	case arch.RelPLT:
		if sym == nil || vals.PLTAddr == nil {
			return &Error{s, r, "PLT relocation with no PLT builder"}
		}
		addr, ok := vals.PLTAddr(sym)
		if !ok {
			return &Error{s, r, fmt.Sprintf("no PLT stub reserved for %q", sym.Name)}
		}
		S = addr
	case arch.RelTPOff:
		if sym == nil || vals.TPOffset == nil {
			return &Error{s, r, "TLS relocation with no TP-offset builder"}
		}
		off, ok := vals.TPOffset(sym)
		if !ok {
			return &Error{s, r, fmt.Sprintf("no TLS offset assigned for %q", sym.Name)}
		}
		S = off
	case arch.RelDTPOff:
		if sym == nil || vals.DTPOffset == nil {
			return &Error{s, r, "TLS relocation with no DTP-offset builder"}
		}
		off, ok := vals.DTPOffset(sym)
		if !ok {
			return &Error{s, r, fmt.Sprintf("no TLS module offset assigned for %q", sym.Name)}
		}
		S = off
	case arch.RelSize:
		if sym != nil {
			S = sym.Size
		}
	case arch.RelTLSDesc:
		// TLS descriptor relocations are resolved dynamically at load
		// time; the static value is the descriptor's GOT slot.
		if sym == nil || vals.GOTAddr == nil {
			return &Error{s, r, "TLSDESC relocation with no GOT builder"}
		}
		addr, ok := vals.GOTAddr(sym)
		if !ok {
			return &Error{s, r, fmt.Sprintf("no TLSDESC slot reserved for %q", sym.Name)}
		}
		S = addr
	}

	var value int64
	switch info.Action {
	case arch.RelPCRel, arch.RelGOT, arch.RelPLT:
		value = int64(S) + r.Addend - int64(P)
	default:
		value = int64(S) + r.Addend
	}

	if info.Size <= 0 {
		return nil // zero-width markers like TLSDESC_CALL patch nothing
	}

	off := sectionFileOff + r.Addr
	if off+uint64(info.Size) > uint64(len(image)) {
		return &Error{s, r, "relocation target falls outside the output section"}
	}

	switch info.Size {
	case 1:
		image[off] = byte(value)
	case 2:
		layout.PutUint16(image[off:], uint16(value))
	case 4:
		layout.PutUint32(image[off:], uint32(value))
	case 8:
		layout.PutUint64(image[off:], uint64(value))
	default:
		return &Error{s, r, fmt.Sprintf("unsupported relocation width %d", info.Size)}
	}
	return nil
}

// NeedsDynamic reports whether applying r would require a dynamic
// relocation entry in .rela.dyn, used when deciding whether a position
// dependent executable can link without one.
func NeedsDynamic(target *arch.Target, r objfile.Reloc) bool {
	rs := arch.RelocSetFor(target)
	if rs == nil {
		return false
	}
	info, ok := rs.Lookup(r.Type)
	return ok && info.NeedsDynamic
}
