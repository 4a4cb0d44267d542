// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chunk plans the output file's section layout (spec.md §4.8):
// grouping live input sections into output sections by name (".text.foo"
// and ".text.bar" both fold into ".text"), and creating the synthetic
// chunks (.got, .plt, .symtab/.strtab, the ELF/program headers, and the
// section header table) that exist only in the linked output, never in any
// input file.
package chunk

import (
	"sort"
	"strings"

	"github.com/uk0/mold/internal/objfile"
)

// Kind distinguishes a chunk backed by concatenated input sections from one
// the linker synthesizes itself.
type Kind int

const (
	KindRegular Kind = iota
	KindSynthetic
)

// An OutputSection is one section of the linked output: either the
// concatenation of every live InputSection whose name folds into it, or a
// synthetic chunk with linker-generated content.
type OutputSection struct {
	Name  string
	Kind  Kind
	Flags objfile.SectionFlags
	Type  objfile.SectionType

	// Members are the input sections contributing to this output
	// section, in link order. Empty for synthetic chunks built before
	// any input is known (.got, .plt): those instead grow via
	// AppendSynthetic.
	Members []*objfile.InputSection

	Align uint64
	// Addr and Offset are filled in by internal/layout once every
	// chunk's size is known.
	Addr   uint64
	Offset uint64
	Size   uint64

	// synthetic holds a synthetic chunk's raw bytes, grown by the
	// symbol/relocation passes that populate .got/.plt/.symtab/etc.
	synthetic []byte
}

// AppendSynthetic appends b to a synthetic chunk's contents and returns the
// offset within the chunk the bytes were written at. Regular (non-synthetic)
// chunks never call this; their Size comes from summing Members instead.
func (o *OutputSection) AppendSynthetic(b []byte) (offset uint64) {
	offset = uint64(len(o.synthetic))
	o.synthetic = append(o.synthetic, b...)
	o.Size = uint64(len(o.synthetic))
	return offset
}

// Bytes returns a synthetic chunk's current contents.
func (o *OutputSection) Bytes() []byte { return o.synthetic }

// FoldName maps an input section's name to the output section it
// contributes to, following the conventional GNU ld "orphan section"
// folding rule: a name of the form ".text.foo" folds into
// ".text", and so on for the other standard prefixes. Anything else keeps
// its own name (spec.md §4.8).
func FoldName(name string) string {
	for _, prefix := range foldablePrefixes {
		if name == prefix {
			return prefix
		}
		if strings.HasPrefix(name, prefix+".") {
			return prefix
		}
	}
	return name
}

var foldablePrefixes = []string{
	".text", ".data", ".rodata", ".bss",
	".data.rel.ro", ".init_array", ".fini_array",
	".tdata", ".tbss",
	".gcc_except_table",
}

// Plan groups every alive input section into its folded OutputSection,
// returning the sections in a deterministic order: text, then read-only
// data, then writable data, then BSS, then everything else alphabetically.
// Dead sections (spec.md §4.5) are skipped entirely.
func Plan(sections []*objfile.InputSection) []*OutputSection {
	byName := map[string]*OutputSection{}
	var order []string

	for _, s := range sections {
		if !s.Alive() {
			continue
		}
		if s.ICFRepresentative != nil {
			continue // Folded away by ICF; the representative carries its bytes.
		}
		name := FoldName(s.Name)
		out, ok := byName[name]
		if !ok {
			out = &OutputSection{Name: name, Kind: KindRegular, Flags: s.Flags, Type: s.Type}
			byName[name] = out
			order = append(order, name)
		}
		if s.Align > out.Align {
			out.Align = s.Align
		}
		out.Size = alignUp(out.Size, maxUint64(s.Align, 1))
		s.Output = out
		s.OutputOffset = out.Size
		out.Members = append(out.Members, s)
		out.Size += s.Size
	}

	sort.Slice(order, func(i, j int) bool {
		return sectionRank(order[i]) < sectionRank(order[j]) ||
			(sectionRank(order[i]) == sectionRank(order[j]) && order[i] < order[j])
	})

	out := make([]*OutputSection, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out
}

func sectionRank(name string) int {
	switch {
	case name == ".text" || strings.HasPrefix(name, ".text"):
		return 0
	case name == ".rodata" || strings.HasPrefix(name, ".rodata"):
		return 1
	case name == ".data" || strings.HasPrefix(name, ".data"):
		return 2
	case name == ".bss":
		return 3
	default:
		return 4
	}
}

func alignUp(x, align uint64) uint64 {
	if align == 0 {
		return x
	}
	return (x + align - 1) &^ (align - 1)
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
