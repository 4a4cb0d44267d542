// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"bytes"
	"debug/elf"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"syscall"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/uk0/mold/internal/arch"
)

// ReadObject parses a relocatable ELF object (ET_REL) or ELF shared object
// (ET_DYN) from r into the InputFile graph of spec.md §3. prov records
// where this file came from, for diagnostics and the resolver's
// file-priority tie-breaking.
func ReadObject(r io.ReaderAt, prov Provenance) (*InputFile, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, fmt.Errorf("reading %s: %w", prov, err)
	}
	if magic != ([4]byte{0x7f, 'E', 'L', 'F'}) {
		return nil, fmt.Errorf("%s: not an ELF file", prov)
	}

	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prov, err)
	}

	target, ok := arch.ByMachine(ef.Machine, ef.Class, ef.ByteOrder)
	if !ok {
		return nil, fmt.Errorf("%s: unrecognized target (machine=%s class=%s order=%v)", prov, ef.Machine, ef.Class, ef.ByteOrder)
	}

	rd := &objReader{ef: ef, r: r, target: target, prov: prov, elfLayout: target.Layout}
	switch ef.Type {
	case elf.ET_REL:
		return rd.readRelocatable()
	case elf.ET_DYN:
		return rd.readSharedObject()
	default:
		return nil, fmt.Errorf("%s: unsupported ELF file type %s", prov, ef.Type)
	}
}

// objReader holds the state needed while parsing a single ELF file. It's
// discarded once the InputFile it builds is returned.
type objReader struct {
	ef     *elf.File
	r      io.ReaderAt
	target *arch.Target
	prov   Provenance

	elfLayout arch.Layout

	sections     []*InputSection
	shnToSection map[elf.SectionIndex]*InputSection
}

func (rd *objReader) readRelocatable() (*InputFile, error) {
	if err := rd.readSections(); err != nil {
		return nil, err
	}
	symbols, err := rd.readSymtab()
	if err != nil {
		return nil, fmt.Errorf("%s: reading symbol table: %w", rd.prov, err)
	}
	if err := rd.readRelocSections(); err != nil {
		return nil, err
	}

	f := &InputFile{
		Provenance: rd.prov,
		Target:     rd.target,
		Sections:   rd.sections,
		Symbols:    symbols,
	}
	for _, s := range rd.sections {
		s.File = f
	}
	comdats, err := rd.readComdats(f)
	if err != nil {
		return nil, fmt.Errorf("%s: reading comdat groups: %w", rd.prov, err)
	}
	f.Comdats = comdats
	return f, nil
}

func (rd *objReader) readSections() error {
	rd.shnToSection = make(map[elf.SectionIndex]*InputSection, len(rd.ef.Sections))
	for i, es := range rd.ef.Sections {
		if es.Type == elf.SHT_NULL {
			continue
		}
		data, err := rd.sectionBytes(es)
		if err != nil {
			return fmt.Errorf("%s: reading section %s: %w", rd.prov, es.Name, err)
		}
		s := &InputSection{
			Index:    SectionID(len(rd.sections)),
			RawIndex: i,
			Name:     es.Name,
			Flags:    toSectionFlags(es.Flags),
			Type:     toSectionType(es.Type),
			Align:    es.Addralign,
			Size:     es.Size,
			Data:     data,
		}
		rd.sections = append(rd.sections, s)
		rd.shnToSection[elf.SectionIndex(i)] = s

		if es.Flags&elf.SHF_MERGE != 0 {
			s.Merge = splitMergeFragments(s, es.Flags&elf.SHF_STRINGS != 0, es.Entsize)
		}
	}
	return nil
}

// sectionBytes reads a section's bytes, memory-mapping the underlying file
// when possible to avoid copying large sections (.text, .rodata, debug
// sections) onto the heap. NOBITS sections (.bss-like) have no bytes to
// read at all. SHF_COMPRESSED sections (typically .debug_* under
// --compress-debug-sections) are decompressed by hand with klauspost's zlib
// and zstd readers rather than debug/elf's built-in decoder, since that's
// where the rest of this linker's compression support (internal/chunk's
// output-side compressor) already lives.
func (rd *objReader) sectionBytes(es *elf.Section) ([]byte, error) {
	if es.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	if es.Flags&elf.SHF_COMPRESSED != 0 {
		return rd.readCompressedSection(es)
	}
	if f, ok := rd.r.(*os.File); ok && es.Size > 0 {
		if data, ok := mmapSection(f, es); ok {
			return data, nil
		}
	}
	return es.Data()
}

// readCompressedSection parses the Elf32_Chdr/Elf64_Chdr that precedes a
// SHF_COMPRESSED section's payload directly from the underlying file and
// feeds the compressed bytes to the matching klauspost decompressor.
func (rd *objReader) readCompressedSection(es *elf.Section) ([]byte, error) {
	var chdrSize int
	var compType uint32
	var uncompressedSize uint64

	switch rd.target.Class {
	case elf.ELFCLASS32:
		chdrSize = 12
		var hdr [12]byte
		if _, err := rd.r.ReadAt(hdr[:], int64(es.Offset)); err != nil {
			return nil, fmt.Errorf("%s: reading compression header for %s: %w", rd.prov, es.Name, err)
		}
		order := rd.elfLayout.Order()
		compType = order.Uint32(hdr[0:4])
		uncompressedSize = uint64(order.Uint32(hdr[4:8]))
	default:
		chdrSize = 24
		var hdr [24]byte
		if _, err := rd.r.ReadAt(hdr[:], int64(es.Offset)); err != nil {
			return nil, fmt.Errorf("%s: reading compression header for %s: %w", rd.prov, es.Name, err)
		}
		order := rd.elfLayout.Order()
		compType = order.Uint32(hdr[0:4])
		uncompressedSize = order.Uint64(hdr[8:16])
	}

	compressed := make([]byte, es.FileSize-uint64(chdrSize))
	if _, err := rd.r.ReadAt(compressed, int64(es.Offset)+int64(chdrSize)); err != nil {
		return nil, fmt.Errorf("%s: reading compressed payload for %s: %w", rd.prov, es.Name, err)
	}

	var dr io.Reader
	switch elf.CompressionType(compType) {
	case elf.COMPRESS_ZLIB:
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: zlib: %w", rd.prov, es.Name, err)
		}
		defer zr.Close()
		dr = zr
	case elf.COMPRESS_ZSTD:
		zr, err := zstd.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: zstd: %w", rd.prov, es.Name, err)
		}
		defer zr.Close()
		dr = zr
	default:
		return nil, fmt.Errorf("%s: %s: unsupported compression type %d", rd.prov, es.Name, compType)
	}

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(dr, out); err != nil {
		return nil, fmt.Errorf("%s: %s: decompressing: %w", rd.prov, es.Name, err)
	}
	return out, nil
}

func mmapSection(f *os.File, es *elf.Section) ([]byte, bool) {
	pageSize := uint64(syscall.Getpagesize())
	start := roundDown2(es.Offset, pageSize)
	end := roundUp2(es.Offset+es.Size, pageSize)
	data, err := syscall.Mmap(int(f.Fd()), int64(start), int(end-start), syscall.PROT_READ, syscall.MAP_SHARED|syscall.MAP_FILE)
	if err != nil {
		return nil, false
	}
	return data[es.Offset-start:][:es.Size], true
}

func roundDown2(x, align uint64) uint64 { return x &^ (align - 1) }
func roundUp2(x, align uint64) uint64   { return roundDown2(x+align-1, align) }

func (rd *objReader) readSymtab() ([]*Symbol, error) {
	elfSyms, err := rd.ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, err
	}
	syms := make([]*Symbol, 0, len(elfSyms))
	for _, es := range elfSyms {
		syms = append(syms, rd.convertSymbol(es))
	}
	return syms, nil
}

func (rd *objReader) convertSymbol(es elf.Symbol) *Symbol {
	sym := &Symbol{Name: es.Name, Value: es.Value, Size: es.Size}
	switch elf.ST_BIND(es.Info) {
	case elf.STB_LOCAL:
		sym.Binding = BindLocal
	case elf.STB_WEAK:
		sym.Binding = BindWeak
	default:
		sym.Binding = BindGlobal
	}
	switch elf.ST_VISIBILITY(es.Other) {
	case elf.STV_INTERNAL:
		sym.Vis = VisInternal
	case elf.STV_HIDDEN:
		sym.Vis = VisHidden
	case elf.STV_PROTECTED:
		sym.Vis = VisProtected
	}
	switch es.Section {
	case elf.SHN_UNDEF:
		sym.Kind = SymUndef
	case elf.SHN_ABS:
		sym.Kind = SymAbsolute
	case elf.SHN_COMMON:
		sym.Kind = SymCommon
		sym.Size = es.Size // Value keeps the alignment ELF stores there for commons; Size is the reservation.
	default:
		sym.Kind = SymDefined
		sym.Section = rd.shnToSection[es.Section]
	}
	return sym
}

func (rd *objReader) readRelocSections() error {
	for _, es := range rd.ef.Sections {
		if es.Type != elf.SHT_REL && es.Type != elf.SHT_RELA {
			continue
		}
		target := rd.shnToSection[elf.SectionIndex(es.Info)]
		if target == nil || !target.CanHaveRelocs() {
			continue
		}
		relocs, err := rd.decodeRelocSection(es, target)
		if err != nil {
			return fmt.Errorf("%s: relocation section %s: %w", rd.prov, es.Name, err)
		}
		target.Relocs = append(target.Relocs, relocs...)
	}
	for _, s := range rd.sections {
		sort.Slice(s.Relocs, func(i, j int) bool { return s.Relocs[i].Addr < s.Relocs[j].Addr })
	}
	return nil
}

func (rd *objReader) decodeRelocSection(es *elf.Section, target *InputSection) ([]Reloc, error) {
	data, err := es.Data()
	if err != nil {
		return nil, err
	}
	r := NewReader(&ByteData{B: data, Layout: rd.elfLayout})

	var relocs []Reloc
	switch {
	case es.Type == elf.SHT_REL && rd.ef.Class == elf.ELFCLASS32:
		for r.Avail() >= 8 {
			off := uint64(r.Uint32())
			sym, typ := symAndType32(r.Uint32())
			relocs = append(relocs, Reloc{Addr: off, Type: typ, Symbol: sym})
		}
	case es.Type == elf.SHT_REL && rd.ef.Class == elf.ELFCLASS64:
		for r.Avail() >= 16 {
			off := r.Uint64()
			sym, typ := symAndType64(r.Uint64())
			relocs = append(relocs, Reloc{Addr: off, Type: typ, Symbol: sym})
		}
	case es.Type == elf.SHT_RELA && rd.ef.Class == elf.ELFCLASS32:
		for r.Avail() >= 12 {
			off := uint64(r.Uint32())
			sym, typ := symAndType32(r.Uint32())
			add := r.Int32()
			relocs = append(relocs, Reloc{Addr: off, Type: typ, Symbol: sym, Addend: int64(add)})
		}
	case es.Type == elf.SHT_RELA && rd.ef.Class == elf.ELFCLASS64:
		for r.Avail() >= 24 {
			off := r.Uint64()
			sym, typ := symAndType64(r.Uint64())
			add := r.Int64()
			relocs = append(relocs, Reloc{Addr: off, Type: typ, Symbol: sym, Addend: add})
		}
	}

	if es.Type == elf.SHT_REL {
		rd.populateAddends(target, relocs)
	}
	return relocs, nil
}

func symAndType32(info uint32) (SymID, uint32) {
	idx := elf.R_SYM32(info)
	if idx == 0 {
		return NoSymID, elf.R_TYPE32(info)
	}
	return SymID(idx - 1), elf.R_TYPE32(info)
}

func symAndType64(info uint64) (SymID, uint32) {
	idx := elf.R_SYM64(info)
	if idx == 0 {
		return NoSymID, elf.R_TYPE64(info)
	}
	return SymID(idx - 1), elf.R_TYPE64(info)
}

// populateAddends fills in the Addend field for SHT_REL relocations, which
// store their addend implicitly in the bytes being relocated rather than in
// the relocation entry itself.
func (rd *objReader) populateAddends(target *InputSection, relocs []Reloc) {
	if target.Data == nil {
		return
	}
	rs := arch.RelocSetFor(rd.target)
	for i := range relocs {
		size := -1
		if rs != nil {
			size = rs.Size(relocs[i].Type)
		}
		if size <= 0 || relocs[i].Addr+uint64(size) > uint64(len(target.Data)) {
			continue
		}
		b := target.Data[relocs[i].Addr:]
		switch size {
		case 1:
			relocs[i].Addend = int64(int8(b[0]))
		case 2:
			relocs[i].Addend = int64(rd.elfLayout.Int16(b))
		case 4:
			relocs[i].Addend = int64(rd.elfLayout.Int32(b))
		case 8:
			relocs[i].Addend = rd.elfLayout.Int64(b)
		}
	}
}

// readComdats decodes SHT_GROUP sections into Comdat groups (spec.md §3,
// §4.4 rule 2). Only COMDAT groups (as opposed to plain section groups)
// participate in resolution.
func (rd *objReader) readComdats(file *InputFile) ([]*Comdat, error) {
	const grpComdat = 0x1

	syms, err := rd.ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, err
	}

	var comdats []*Comdat
	for _, es := range rd.ef.Sections {
		if es.Type != elf.SHT_GROUP {
			continue
		}
		data, err := es.Data()
		if err != nil {
			return nil, err
		}
		if len(data) < 4 || rd.elfLayout.Uint32(data[:4])&grpComdat == 0 {
			continue
		}
		var sig string
		if idx := int(es.Info); idx > 0 && idx <= len(syms) {
			sig = syms[idx-1].Name
		}
		c := &Comdat{Signature: sig, Owner: file}
		for off := 4; off+4 <= len(data); off += 4 {
			shn := elf.SectionIndex(rd.elfLayout.Uint32(data[off : off+4]))
			if sec := rd.shnToSection[shn]; sec != nil {
				sec.Comdat = c
				c.Members = append(c.Members, sec)
			}
		}
		if len(c.Members) > 0 {
			comdats = append(comdats, c)
		}
	}
	return comdats, nil
}

func splitMergeFragments(s *InputSection, isStrings bool, entSize uint64) *MergeableSection {
	m := &MergeableSection{Parent: s, EntrySize: entSize, IsStrings: isStrings}
	if s.Data == nil {
		return m
	}
	if isStrings {
		start := 0
		for i, b := range s.Data {
			if b != 0 {
				continue
			}
			frag := s.Data[start : i+1]
			m.Fragments = append(m.Fragments, Fragment{Offset: uint64(start), Bytes: frag, Hash: fragHash(frag)})
			start = i + 1
		}
		return m
	}
	if entSize == 0 {
		return m
	}
	for off := uint64(0); off+entSize <= uint64(len(s.Data)); off += entSize {
		frag := s.Data[off : off+entSize]
		m.Fragments = append(m.Fragments, Fragment{Offset: off, Bytes: frag, Hash: fragHash(frag)})
	}
	return m
}

func fragHash(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

func toSectionFlags(f elf.SectionFlags) SectionFlags {
	var out SectionFlags
	bits := []struct {
		elf elf.SectionFlags
		out SectionFlags
	}{
		{elf.SHF_WRITE, SHFWrite},
		{elf.SHF_ALLOC, SHFAlloc},
		{elf.SHF_EXECINSTR, SHFExecInstr},
		{elf.SHF_MERGE, SHFMerge},
		{elf.SHF_STRINGS, SHFStrings},
		{elf.SHF_GROUP, SHFGroup},
		{elf.SHF_TLS, SHFTLS},
		{elf.SHF_COMPRESSED, SHFCompressed},
	}
	for _, b := range bits {
		if f&b.elf != 0 {
			out |= b.out
		}
	}
	return out
}

func toSectionType(t elf.SectionType) SectionType {
	switch t {
	case elf.SHT_PROGBITS:
		return SHTProgbits
	case elf.SHT_SYMTAB:
		return SHTSymtab
	case elf.SHT_STRTAB:
		return SHTStrtab
	case elf.SHT_RELA:
		return SHTRela
	case elf.SHT_NOBITS:
		return SHTNobits
	case elf.SHT_REL:
		return SHTRel
	case elf.SHT_DYNSYM:
		return SHTDynsym
	case elf.SHT_GROUP:
		return SHTGroup
	}
	if t >= elf.SHT_LOPROC {
		return SHTLoproc
	}
	return SHTNull
}
