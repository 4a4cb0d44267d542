// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icf

import (
	"testing"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/objfile"
)

func textSection(f *objfile.InputFile, name string, data []byte, relocs ...objfile.Reloc) *objfile.InputSection {
	s := &objfile.InputSection{
		File:  f,
		Name:  name,
		Flags: objfile.SHFAlloc | objfile.SHFExecInstr,
		Type:  objfile.SHTProgbits,
		Data:  data,
	}
	s.Relocs = relocs
	s.SetAlive()
	return s
}

func TestFoldsIdenticalFunctions(t *testing.T) {
	f := &objfile.InputFile{Provenance: objfile.Provenance{Path: "a.o"}}
	// "ret" (0xc3) three times: no relocations, trivially identical.
	a := textSection(f, ".text.f1", []byte{0xc3})
	b := textSection(f, ".text.f2", []byte{0xc3})
	c := textSection(f, ".text.f3", []byte{0xc3, 0xc3}) // different size, must not fold

	folded := Run([]*objfile.InputSection{a, b, c}, arch.X86_64)
	if folded != 1 {
		t.Fatalf("folded = %d, want 1", folded)
	}
	if a.ICFClass == 0 || a.ICFClass != b.ICFClass {
		t.Fatalf("a and b weren't placed in the same class: %d vs %d", a.ICFClass, b.ICFClass)
	}
	if c.ICFClass != 0 {
		t.Fatalf("differently-sized section was folded: class %d", c.ICFClass)
	}
	if a.ICFRepresentative == nil && b.ICFRepresentative == nil {
		t.Fatalf("neither a nor b is a representative")
	}
}

func TestDoesNotFoldDifferentTargets(t *testing.T) {
	f := &objfile.InputFile{Provenance: objfile.Provenance{Path: "a.o"}}
	g1 := textSection(f, ".text.g1", []byte{0x90})
	g2 := textSection(f, ".text.g2", []byte{0x90})
	h1 := textSection(f, ".text.h1", []byte{0x90})
	h2 := textSection(f, ".text.h2", []byte{0x90})

	caller1 := textSection(f, ".text.c1", []byte{0xe8, 0, 0, 0, 0}, objfile.Reloc{Addr: 1, Symbol: 0})
	caller2 := textSection(f, ".text.c2", []byte{0xe8, 0, 0, 0, 0}, objfile.Reloc{Addr: 1, Symbol: 1})

	symG := &objfile.Symbol{Name: "g", Section: g1, Kind: objfile.SymDefined}
	symH := &objfile.Symbol{Name: "h", Section: h1, Kind: objfile.SymDefined}
	f.Symbols = []*objfile.Symbol{symG, symH}

	_ = g2
	_ = h2

	folded := Run([]*objfile.InputSection{caller1, caller2}, arch.X86_64)
	if folded != 0 {
		t.Fatalf("folded = %d, want 0 (callers target different, non-equivalent sections)", folded)
	}
}
