// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"fmt"

	"github.com/uk0/mold/internal/arch"
)

// A Reloc is one relocation entry read from an input section's SHT_REL or
// SHT_RELA sibling, carrying enough information for internal/relocapply to
// later patch the output bytes (spec.md §4.10).
type Reloc struct {
	// Addr is the byte offset within the relocated section this
	// relocation applies to.
	Addr uint64
	// Type is the raw processor-specific relocation type (e.g.
	// R_X86_64_PC32's numeric value). internal/arch.RelocSet turns this
	// into a RelocInfo describing how to apply it.
	Type uint32
	// Symbol names the symbol this relocation refers to, or NoSymID for
	// a relocation against a section with no symbol (some processors
	// allow this for section-relative relocations).
	Symbol SymID
	// Addend is the constant added to the symbol's resolved value. It's
	// always present here regardless of whether the underlying format
	// used SHT_REL (addend implicit in the relocated bytes, extracted at
	// read time) or SHT_RELA (addend explicit in the relocation entry).
	Addend int64
}

// Info looks up the semantics of r.Type for the given target, or reports ok
// = false if the target has no relocation table or the type is unknown to
// it.
func (r Reloc) Info(t *arch.Target) (info arch.RelocInfo, ok bool) {
	rs := arch.RelocSetFor(t)
	if rs == nil {
		return arch.RelocInfo{}, false
	}
	return rs.Lookup(r.Type)
}

func (r Reloc) String() string {
	return fmt.Sprintf("reloc{addr=%#x type=%d sym=%d addend=%d}", r.Addr, r.Type, r.Symbol, r.Addend)
}
