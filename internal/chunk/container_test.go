// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk

import (
	"debug/elf"
	"testing"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/objfile"
	"github.com/uk0/mold/internal/resolve"
)

// assignLinear is a minimal stand-in for internal/layout.Assign: it packs
// sections sequentially by Align, as assignAddrs does, without importing
// internal/layout (which itself imports this package). Unlike assignAddrs,
// it gives non-alloc sections an address and leaves member OutputAddr alone.
func assignLinear(sections []*OutputSection, base uint64) {
	addr, off := base, uint64(0)
	for _, s := range sections {
		a := s.Align
		if a == 0 {
			a = 1
		}
		addr = alignUp(addr, a)
		off = alignUp(off, a)
		s.Addr, s.Offset = addr, off
		if s.Flags.Has(objfile.SHFAlloc) {
			addr += s.Size
		}
		off += s.Size
	}
}

func newTextSection(t *testing.T) (*objfile.Symbol, *OutputSection) {
	t.Helper()
	fn := &objfile.InputSection{Name: ".text", Size: 16, Align: 16, Flags: objfile.SHFAlloc | objfile.SHFExecInstr, Type: objfile.SHTProgbits}
	fn.SetAlive()
	sym := &objfile.Symbol{Name: "_start", Kind: objfile.SymDefined, Section: fn, Binding: objfile.BindGlobal}
	text := &OutputSection{Name: ".text", Flags: fn.Flags, Type: objfile.SHTProgbits, Align: 16, Size: 16, Members: []*objfile.InputSection{fn}}
	fn.Output = text
	return sym, text
}

func TestSynthesizeBuildsLoadableContainer(t *testing.T) {
	f := &objfile.InputFile{Target: arch.X86_64}
	sym, text := newTextSection(t)
	f.Symbols = []*objfile.Symbol{sym}

	table := resolve.NewTable()
	if err := table.AddFile(f); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	full, c := Synthesize([]*OutputSection{text}, nil, table, arch.X86_64, "_start")

	if full[0] != c.header {
		t.Fatal("header chunk must be first so every later section's offset accounts for it")
	}
	if c.header.Name != "" {
		t.Error("the header blob must not have a section name: it's excluded from Shdr/.shstrtab")
	}
	var names []string
	for _, s := range full {
		names = append(names, s.Name)
	}
	wantTail := []string{".symtab", ".strtab", ".shstrtab"}
	for i, w := range wantTail {
		if full[len(full)-4+i].Name != w {
			t.Fatalf("tail sections = %v, want .symtab/.strtab/.shstrtab/<shdr> at the end", names)
		}
	}
	if full[len(full)-1] != c.shdr {
		t.Error("Shdr must be the final chunk")
	}
}

func TestFillContainerProducesValidELFHeader(t *testing.T) {
	f := &objfile.InputFile{Target: arch.X86_64}
	sym, text := newTextSection(t)
	f.Symbols = []*objfile.Symbol{sym}

	table := resolve.NewTable()
	if err := table.AddFile(f); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	full, c := Synthesize([]*OutputSection{text}, nil, table, arch.X86_64, "_start")
	assignLinear(full, 0x400000)
	for _, m := range text.Members {
		m.OutputAddr = text.Addr + m.OutputOffset
	}

	imageSize := uint64(0)
	for _, s := range full {
		end := s.Offset + s.Size
		if end > imageSize {
			imageSize = end
		}
	}
	image := make([]byte, imageSize)

	resolveAddr := func(sym *objfile.Symbol) (uint64, bool) {
		if sym.Section != nil {
			return sym.Section.OutputAddr + sym.Value, true
		}
		return 0, false
	}
	c.FillContainer(image, resolveAddr)

	if image[0] != 0x7f || image[1] != 'E' || image[2] != 'L' || image[3] != 'F' {
		t.Fatalf("missing ELF magic at image[0:4]: %v", image[0:4])
	}
	if elf.Class(image[4]) != elf.ELFCLASS64 {
		t.Errorf("EI_CLASS = %v, want ELFCLASS64", elf.Class(image[4]))
	}

	order := arch.X86_64.Layout.Order()
	var hdr elf.Header64
	hdrBytes := image[c.header.Offset : c.header.Offset+64]
	hdr.Entry = order.Uint64(hdrBytes[24:32])
	hdr.Shoff = order.Uint64(hdrBytes[40:48])
	hdr.Phnum = order.Uint16(hdrBytes[56:58])
	hdr.Shnum = order.Uint16(hdrBytes[60:62])

	wantEntry := text.Addr
	if hdr.Entry != wantEntry {
		t.Errorf("e_entry = %#x, want %#x (_start's address)", hdr.Entry, wantEntry)
	}
	if hdr.Shoff != c.shdr.Offset {
		t.Errorf("e_shoff = %#x, want %#x", hdr.Shoff, c.shdr.Offset)
	}
	if int(hdr.Phnum) != c.phnum {
		t.Errorf("e_phnum = %d, want %d", hdr.Phnum, c.phnum)
	}
	wantShnum := 1 + len(c.shdrList)
	if int(hdr.Shnum) != wantShnum {
		t.Errorf("e_shnum = %d, want %d", hdr.Shnum, wantShnum)
	}
}

func TestFillContainerWritesSymtabEntry(t *testing.T) {
	f := &objfile.InputFile{Target: arch.X86_64}
	sym, text := newTextSection(t)
	f.Symbols = []*objfile.Symbol{sym}

	table := resolve.NewTable()
	if err := table.AddFile(f); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	full, c := Synthesize([]*OutputSection{text}, nil, table, arch.X86_64, "_start")
	assignLinear(full, 0x400000)
	for _, m := range text.Members {
		m.OutputAddr = text.Addr + m.OutputOffset
	}

	image := make([]byte, 1<<16)
	resolveAddr := func(sym *objfile.Symbol) (uint64, bool) {
		if sym.Section != nil {
			return sym.Section.OutputAddr + sym.Value, true
		}
		return 0, false
	}
	c.FillContainer(image, resolveAddr)

	order := arch.X86_64.Layout.Order()
	entOff := c.symtab.Offset + uint64(symEntSize(arch.X86_64)) // entry 1, past the null entry
	var rec elf.Sym64
	b := image[entOff : entOff+24]
	rec.Name = order.Uint32(b[0:4])
	rec.Info = b[4]
	rec.Value = order.Uint64(b[8:16])

	if rec.Value != text.Addr {
		t.Errorf("symtab entry value = %#x, want %#x", rec.Value, text.Addr)
	}
	if elf.ST_BIND(rec.Info) != elf.STB_GLOBAL {
		t.Errorf("symtab entry bind = %v, want STB_GLOBAL", elf.ST_BIND(rec.Info))
	}
	if elf.ST_TYPE(rec.Info) != elf.STT_FUNC {
		t.Errorf("symtab entry type = %v, want STT_FUNC (section has SHF_EXECINSTR)", elf.ST_TYPE(rec.Info))
	}

	nameOff := rec.Name
	end := nameOff
	for image[c.strtab.Offset+uint64(end)] != 0 {
		end++
	}
	gotName := string(image[c.strtab.Offset+uint64(nameOff) : c.strtab.Offset+uint64(end)])
	if gotName != "_start" {
		t.Errorf("symtab entry name = %q, want %q", gotName, "_start")
	}
}

func TestBuildIDOffsetPointsIntoNoteDescriptor(t *testing.T) {
	table := resolve.NewTable()
	full, c := Synthesize(nil, nil, table, arch.X86_64, "_start")
	assignLinear(full, 0x400000)

	off := c.BuildIDOffset()
	if off < c.note.Offset || off+BuildIDDigestSize > c.note.Offset+c.note.Size {
		t.Errorf("BuildIDOffset() = %#x, not within the note chunk [%#x, %#x)", off, c.note.Offset, c.note.Offset+c.note.Size)
	}
}

func TestSegmentGroupsSeparatesByWriteExecFlags(t *testing.T) {
	text := &OutputSection{Name: ".text", Flags: objfile.SHFAlloc | objfile.SHFExecInstr}
	rodata := &OutputSection{Name: ".rodata", Flags: objfile.SHFAlloc}
	data := &OutputSection{Name: ".data", Flags: objfile.SHFAlloc | objfile.SHFWrite}
	nonAlloc := &OutputSection{Name: ".debug_info"}

	groups := segmentGroups([]*OutputSection{text, rodata, data, nonAlloc})
	if len(groups) != 3 {
		t.Fatalf("got %d segment groups, want 3 (text, rodata, data); non-alloc must be excluded", len(groups))
	}
	if groups[0].exec != true || groups[1].write || groups[1].exec {
		t.Errorf("unexpected group flags: %+v", groups)
	}
	if !groups[2].write {
		t.Error(".data group should be marked writable")
	}
}
