// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/objfile"
	"github.com/uk0/mold/internal/resolve"
)

// BuildIDDigestSize is the width of the build-id note's descriptor, kept in
// sync by convention with internal/writer.BuildIDSize (the two packages
// can't import each other: writer already imports chunk).
const BuildIDDigestSize = 20

const buildIDNoteName = "GNU\x00"

// Container holds the ELF-wrapper chunks Synthesize creates around a
// link's regular output sections: the file/program header blob, a
// .note.gnu.build-id placeholder, .symtab/.strtab/.shstrtab, and the
// section header table. FillContainer patches the chunks whose bytes
// depend on final addresses, once internal/layout.Assign has run.
type Container struct {
	target      *arch.Target
	table       *resolve.Table
	entrySymbol string

	header   *OutputSection
	note     *OutputSection
	symtab   *OutputSection
	strtab   *OutputSection
	shstrtab *OutputSection
	shdr     *OutputSection

	buildIDDescOff uint64
	allocRest      []*OutputSection // outSections + dyn's .got/.plt, in output order
	shdrList       []*OutputSection // every non-header section, in Shdr order
	shstrOffsets   map[*OutputSection]uint32
	symEntries     []symtabEntry
	strOffsets     map[string]uint32
	phnum          int
	shentsize      int
}

type symtabEntry struct {
	name string
	sym  *objfile.Symbol
}

// BuildIDOffset returns the build-id digest's absolute file offset, valid
// once internal/layout.Assign has set the note chunk's Offset.
func (c *Container) BuildIDOffset() uint64 { return c.note.Offset + c.buildIDDescOff }

// Synthesize wraps outSections (chunk.Plan's output, after any GC/ICF/
// compression/GOT-PLT passes) with the chunks that exist only in linker
// output (spec.md §4.8, §2 step 6): the ELF/program header blob, a
// .note.gnu.build-id placeholder, .symtab/.strtab built from table's
// resolved global/weak symbols, .shstrtab, and the section header table.
// The returned slice is what internal/layout.Assign should run on; the
// returned Container is what FillContainer needs afterward.
//
// Only resolved global and weak symbols go into .symtab; per-file local
// symbols are left out (a deliberate scope cut, see DESIGN.md). Likewise
// there is no .dynsym/.dynstr/.dynamic/.interp/.hash: this linker only
// produces static ET_EXEC output, not loadable shared objects.
func Synthesize(outSections []*OutputSection, dyn *DynBuilder, table *resolve.Table, target *arch.Target, entrySymbol string) ([]*OutputSection, *Container) {
	c := &Container{target: target, table: table, entrySymbol: entrySymbol}

	c.note, c.buildIDDescOff = newBuildIDNote(target)

	c.symEntries = collectSymtabEntries(table)
	c.symtab, c.strtab, c.strOffsets = newSymtabChunks(c.symEntries, target)

	var dynSections []*OutputSection
	if dyn != nil {
		dynSections = dyn.Sections()
	}
	c.allocRest = append(append([]*OutputSection{}, outSections...), dynSections...)

	c.shdrList = append(append([]*OutputSection{}, c.allocRest...), c.note, c.symtab, c.strtab)
	c.shstrtab, c.shstrOffsets = newShstrtab(c.shdrList)
	c.shdrList = append(c.shdrList, c.shstrtab)

	ehdrSize, phentsize, shentsize := headerSizes(target)
	c.shentsize = shentsize

	groups := segmentGroups(append([]*OutputSection{c.note}, c.allocRest...))
	c.phnum = 1 + 1 + len(groups) + 1 // PT_PHDR + header's own PT_LOAD + (note+allocRest groups) + PT_NOTE
	if tdata, tbss := findTLS(c.allocRest); tdata != nil || tbss != nil {
		c.phnum++
	}
	c.phnum++ // PT_GNU_STACK

	headerSize := alignUp(uint64(ehdrSize)+uint64(c.phnum)*uint64(phentsize), 16)
	c.header = &OutputSection{Name: "", Kind: KindSynthetic, Flags: objfile.SHFAlloc, Align: 16}
	c.header.AppendSynthetic(make([]byte, headerSize))

	numShdrEntries := 1 + len(c.shdrList)
	c.shdr = &OutputSection{Name: "", Kind: KindSynthetic, Align: uint64(target.Layout.WordSize())}
	c.shdr.AppendSynthetic(make([]byte, numShdrEntries*shentsize))

	full := []*OutputSection{c.header, c.note}
	full = append(full, outSections...)
	full = append(full, dynSections...)
	full = append(full, c.symtab, c.strtab, c.shstrtab, c.shdr)
	return full, c
}

// FillContainer patches every chunk whose bytes depend on final addresses:
// .symtab's resolved values, the section header table, and the ELF/program
// headers. Call it after internal/layout.Assign and internal/writer have
// laid the image out in memory, before relocapply and before the build-id
// digest (writer.ComputeBuildID) is computed, since that digest must hash
// these very bytes too.
func (c *Container) FillContainer(image []byte, resolve func(*objfile.Symbol) (uint64, bool)) {
	order := c.target.Layout.Order()
	c.fillSymtab(image, order, resolve)
	c.fillShdr(image, order)
	entry := uint64(0)
	if b := c.table.Lookup(c.entrySymbol); b != nil && b.Defined() {
		entry, _ = resolve(b.Symbol)
	}
	c.fillHeader(image, order, entry)
}

func (c *Container) fillSymtab(image []byte, order binary.ByteOrder, resolve func(*objfile.Symbol) (uint64, bool)) {
	entsize := symEntSize(c.target)
	base := c.symtab.Offset
	for i, e := range c.symEntries {
		off := base + uint64(i+1)*uint64(entsize)
		val, _ := resolve(e.sym)
		shndx := uint16(elf.SHN_UNDEF)
		if e.sym.Section != nil {
			if out, ok := e.sym.Section.Output.(*OutputSection); ok {
				shndx = uint16(c.shdrIndex(out))
			}
		} else if e.sym.Kind == objfile.SymAbsolute {
			shndx = uint16(elf.SHN_ABS)
		}
		typ := uint8(elf.STT_OBJECT)
		if e.sym.Section != nil && e.sym.Section.Flags.Has(objfile.SHFExecInstr) {
			typ = uint8(elf.STT_FUNC)
		}
		bind := uint8(elf.STB_GLOBAL)
		if e.sym.Binding == objfile.BindWeak {
			bind = uint8(elf.STB_WEAK)
		}
		info := bind<<4 | (typ & 0xf)
		if c.target.Class == elf.ELFCLASS64 {
			rec := elf.Sym64{Name: c.strOffsets[e.name], Info: info, Shndx: shndx, Value: val, Size: e.sym.Size}
			writeStruct(image[off:off+uint64(entsize)], order, &rec)
		} else {
			rec := elf.Sym32{Name: c.strOffsets[e.name], Info: info, Shndx: shndx, Value: uint32(val), Size: uint32(e.sym.Size)}
			writeStruct(image[off:off+uint64(entsize)], order, &rec)
		}
	}
}

func (c *Container) fillShdr(image []byte, order binary.ByteOrder) {
	base := c.shdr.Offset
	entsize := c.shentsize
	strtabIdx := uint32(c.shdrIndex(c.strtab))
	for i, out := range c.shdrList {
		off := base + uint64(i+1)*uint64(entsize)
		var link, info uint32
		if out == c.symtab {
			link, info = strtabIdx, 1 // every entry here is global/weak: first global index is 1
		}
		name := c.shstrOffsets[out]
		if c.target.Class == elf.ELFCLASS64 {
			rec := elf.Section64{
				Name: name, Type: shdrType(out), Flags: shdrFlags(out),
				Addr: out.Addr, Off: out.Offset, Size: out.Size,
				Link: link, Info: info, Addralign: maxUint64(out.Align, 1), Entsize: entsizeFor(out, c.target),
			}
			writeStruct(image[off:off+uint64(entsize)], order, &rec)
		} else {
			rec := elf.Section32{
				Name: name, Type: shdrType(out), Flags: uint32(shdrFlags(out)),
				Addr: uint32(out.Addr), Off: uint32(out.Offset), Size: uint32(out.Size),
				Link: link, Info: info, Addralign: uint32(maxUint64(out.Align, 1)), Entsize: uint32(entsizeFor(out, c.target)),
			}
			writeStruct(image[off:off+uint64(entsize)], order, &rec)
		}
	}
}

func (c *Container) fillHeader(image []byte, order binary.ByteOrder, entry uint64) {
	ehdrSize, phentsize, _ := headerSizes(c.target)
	base := c.header.Offset

	var ident [16]byte
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	if c.target.Class == elf.ELFCLASS64 {
		ident[4] = byte(elf.ELFCLASS64)
	} else {
		ident[4] = byte(elf.ELFCLASS32)
	}
	if order == binary.BigEndian {
		ident[5] = byte(elf.ELFDATA2MSB)
	} else {
		ident[5] = byte(elf.ELFDATA2LSB)
	}
	ident[6] = byte(elf.EV_CURRENT)

	shstrndx := uint16(c.shdrIndex(c.shstrtab))
	numShdr := uint16(1 + len(c.shdrList))

	if c.target.Class == elf.ELFCLASS64 {
		var hdr elf.Header64
		copy(hdr.Ident[:], ident[:])
		hdr.Type = uint16(elf.ET_EXEC)
		hdr.Machine = uint16(c.target.Machine)
		hdr.Version = uint32(elf.EV_CURRENT)
		hdr.Entry = entry
		hdr.Phoff = uint64(ehdrSize)
		hdr.Shoff = c.shdr.Offset
		hdr.Ehsize = uint16(ehdrSize)
		hdr.Phentsize = uint16(phentsize)
		hdr.Phnum = uint16(c.phnum)
		hdr.Shentsize = uint16(c.shentsize)
		hdr.Shnum = numShdr
		hdr.Shstrndx = shstrndx
		writeStruct(image[base:base+uint64(ehdrSize)], order, &hdr)
	} else {
		var hdr elf.Header32
		copy(hdr.Ident[:], ident[:])
		hdr.Type = uint16(elf.ET_EXEC)
		hdr.Machine = uint16(c.target.Machine)
		hdr.Version = uint32(elf.EV_CURRENT)
		hdr.Entry = uint32(entry)
		hdr.Phoff = uint32(ehdrSize)
		hdr.Shoff = uint32(c.shdr.Offset)
		hdr.Ehsize = uint16(ehdrSize)
		hdr.Phentsize = uint16(phentsize)
		hdr.Phnum = uint16(c.phnum)
		hdr.Shentsize = uint16(c.shentsize)
		hdr.Shnum = numShdr
		hdr.Shstrndx = shstrndx
		writeStruct(image[base:base+uint64(ehdrSize)], order, &hdr)
	}

	c.fillPhdrs(image, order, uint64(ehdrSize))
}

type progEntry struct {
	typ, flags                       uint32
	off, vaddr, filesz, memsz, align uint64
}

func (c *Container) fillPhdrs(image []byte, order binary.ByteOrder, phoffInChunk uint64) {
	_, phentsize, _ := headerSizes(c.target)
	base := c.header.Offset + phoffInChunk

	var entries []progEntry
	entries = append(entries, progEntry{
		typ: uint32(elf.PT_PHDR), flags: uint32(elf.PF_R),
		off: base, vaddr: c.header.Addr + phoffInChunk,
		filesz: uint64(c.phnum) * uint64(phentsize), memsz: uint64(c.phnum) * uint64(phentsize),
		align: uint64(c.target.Layout.WordSize()),
	})
	entries = append(entries, segLoadEntry(c.header, c.header))

	for _, g := range segmentGroups(append([]*OutputSection{c.note}, c.allocRest...)) {
		entries = append(entries, segLoadEntry(g.sections[0], g.sections[len(g.sections)-1]))
	}

	entries = append(entries, progEntry{
		typ: uint32(elf.PT_NOTE), flags: uint32(elf.PF_R),
		off: c.note.Offset, vaddr: c.note.Addr, filesz: c.note.Size, memsz: c.note.Size, align: maxUint64(c.note.Align, 1),
	})

	if tdata, tbss := findTLS(c.allocRest); tdata != nil || tbss != nil {
		first := tdata
		if first == nil {
			first = tbss
		}
		var filesz, memsz, align uint64
		if tdata != nil {
			filesz = tdata.Size
			memsz = filesz
			align = tdata.Align
		}
		if tbss != nil {
			memsz += tbss.Size
			if tbss.Align > align {
				align = tbss.Align
			}
		}
		entries = append(entries, progEntry{
			typ: uint32(elf.PT_TLS), flags: uint32(elf.PF_R),
			off: first.Offset, vaddr: first.Addr, filesz: filesz, memsz: memsz, align: maxUint64(align, 1),
		})
	}

	entries = append(entries, progEntry{typ: uint32(elf.PT_GNU_STACK), flags: uint32(elf.PF_R | elf.PF_W), align: 16})

	for i, e := range entries {
		off := base + uint64(i)*uint64(phentsize)
		if c.target.Class == elf.ELFCLASS64 {
			rec := elf.Prog64{Type: e.typ, Flags: e.flags, Off: e.off, Vaddr: e.vaddr, Paddr: e.vaddr, Filesz: e.filesz, Memsz: e.memsz, Align: e.align}
			writeStruct(image[off:off+uint64(phentsize)], order, &rec)
		} else {
			rec := elf.Prog32{Type: e.typ, Flags: e.flags, Off: uint32(e.off), Vaddr: uint32(e.vaddr), Paddr: uint32(e.vaddr), Filesz: uint32(e.filesz), Memsz: uint32(e.memsz), Align: uint32(e.align)}
			writeStruct(image[off:off+uint64(phentsize)], order, &rec)
		}
	}
}

func segLoadEntry(first, last *OutputSection) progEntry {
	flags := uint32(elf.PF_R)
	if last.Flags.Has(objfile.SHFWrite) {
		flags |= uint32(elf.PF_W)
	}
	if last.Flags.Has(objfile.SHFExecInstr) {
		flags |= uint32(elf.PF_X)
	}
	memsz := last.Addr + last.Size - first.Addr
	return progEntry{typ: uint32(elf.PT_LOAD), flags: flags, off: first.Offset, vaddr: first.Addr, filesz: memsz, memsz: memsz, align: 0x1000}
}

func (c *Container) shdrIndex(out *OutputSection) int {
	for i, s := range c.shdrList {
		if s == out {
			return i + 1
		}
	}
	return 0
}

type segGroup struct {
	sections    []*OutputSection
	write, exec bool
}

// segmentGroups buckets order's alloc-flagged sections into contiguous
// runs sharing the same (write, exec) flags: each run becomes one PT_LOAD.
func segmentGroups(order []*OutputSection) []segGroup {
	var groups []segGroup
	for _, s := range order {
		if !s.Flags.Has(objfile.SHFAlloc) {
			continue
		}
		w, x := s.Flags.Has(objfile.SHFWrite), s.Flags.Has(objfile.SHFExecInstr)
		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			if last.write == w && last.exec == x {
				last.sections = append(last.sections, s)
				continue
			}
		}
		groups = append(groups, segGroup{sections: []*OutputSection{s}, write: w, exec: x})
	}
	return groups
}

func findTLS(sections []*OutputSection) (tdata, tbss *OutputSection) {
	for _, s := range sections {
		switch s.Name {
		case ".tdata":
			tdata = s
		case ".tbss":
			tbss = s
		}
	}
	return
}

func headerSizes(target *arch.Target) (ehdrSize, phentsize, shentsize int) {
	if target.Class == elf.ELFCLASS64 {
		return 64, 56, 64
	}
	return 52, 32, 40
}

func symEntSize(target *arch.Target) int {
	if target.Class == elf.ELFCLASS64 {
		return 24
	}
	return 16
}

func shdrType(out *OutputSection) uint32 {
	switch {
	case out.Name == ".note.gnu.build-id":
		return uint32(elf.SHT_NOTE)
	case out.Type == objfile.SHTSymtab:
		return uint32(elf.SHT_SYMTAB)
	case out.Type == objfile.SHTStrtab:
		return uint32(elf.SHT_STRTAB)
	case out.Type == objfile.SHTNobits:
		return uint32(elf.SHT_NOBITS)
	default:
		return uint32(elf.SHT_PROGBITS)
	}
}

func shdrFlags(out *OutputSection) uint64 {
	var f uint64
	if out.Flags.Has(objfile.SHFAlloc) {
		f |= uint64(elf.SHF_ALLOC)
	}
	if out.Flags.Has(objfile.SHFWrite) {
		f |= uint64(elf.SHF_WRITE)
	}
	if out.Flags.Has(objfile.SHFExecInstr) {
		f |= uint64(elf.SHF_EXECINSTR)
	}
	return f
}

func entsizeFor(out *OutputSection, target *arch.Target) uint64 {
	if out.Type == objfile.SHTSymtab {
		return uint64(symEntSize(target))
	}
	return 0
}

func writeStruct(dst []byte, order binary.ByteOrder, v interface{}) {
	var buf bytes.Buffer
	binary.Write(&buf, order, v)
	copy(dst, buf.Bytes())
}

func collectSymtabEntries(table *resolve.Table) []symtabEntry {
	var entries []symtabEntry
	for _, name := range table.SortedNames() {
		b := table.Lookup(name)
		if b == nil || !b.Defined() {
			continue
		}
		entries = append(entries, symtabEntry{name: name, sym: b.Symbol})
	}
	return entries
}

func newSymtabChunks(entries []symtabEntry, target *arch.Target) (symtab, strtab *OutputSection, strOff map[string]uint32) {
	strtab = &OutputSection{Name: ".strtab", Kind: KindSynthetic, Type: objfile.SHTStrtab, Align: 1}
	var sbuf bytes.Buffer
	sbuf.WriteByte(0)
	strOff = map[string]uint32{}
	for _, e := range entries {
		strOff[e.name] = uint32(sbuf.Len())
		sbuf.WriteString(e.name)
		sbuf.WriteByte(0)
	}
	strtab.AppendSynthetic(sbuf.Bytes())

	entsize := symEntSize(target)
	symtab = &OutputSection{Name: ".symtab", Kind: KindSynthetic, Type: objfile.SHTSymtab, Align: uint64(target.Layout.WordSize())}
	symtab.AppendSynthetic(make([]byte, (len(entries)+1)*entsize)) // +1 for the null entry; values filled in by FillContainer
	return symtab, strtab, strOff
}

func newShstrtab(sections []*OutputSection) (*OutputSection, map[*OutputSection]uint32) {
	tab := &OutputSection{Name: ".shstrtab", Kind: KindSynthetic, Type: objfile.SHTStrtab, Align: 1}
	var buf bytes.Buffer
	buf.WriteByte(0)
	offsets := make(map[*OutputSection]uint32, len(sections)+1)
	for _, s := range append(append([]*OutputSection{}, sections...), tab) {
		if _, ok := offsets[s]; ok {
			continue
		}
		offsets[s] = uint32(buf.Len())
		buf.WriteString(s.Name)
		buf.WriteByte(0)
	}
	tab.AppendSynthetic(buf.Bytes())
	return tab, offsets
}

func newBuildIDNote(target *arch.Target) (note *OutputSection, descOffsetInChunk uint64) {
	note = &OutputSection{Name: ".note.gnu.build-id", Kind: KindSynthetic, Flags: objfile.SHFAlloc, Type: objfile.SHTNull, Align: 4}
	order := target.Layout.Order()
	var buf bytes.Buffer
	var lenBuf [4]byte
	order.PutUint32(lenBuf[:], uint32(len(buildIDNoteName)))
	buf.Write(lenBuf[:])
	order.PutUint32(lenBuf[:], uint32(BuildIDDigestSize))
	buf.Write(lenBuf[:])
	order.PutUint32(lenBuf[:], 3) // NT_GNU_BUILD_ID
	buf.Write(lenBuf[:])
	buf.WriteString(buildIDNoteName)
	descOffsetInChunk = uint64(buf.Len())
	buf.Write(make([]byte, BuildIDDigestSize))
	note.AppendSynthetic(buf.Bytes())
	return note, descOffsetInChunk
}
