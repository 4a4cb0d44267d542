// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout assigns final virtual addresses and file offsets to every
// output chunk (spec.md §4.9), and runs the thunk-insertion fixpoint for
// targets whose direct branches have limited range (ARM32, ARM64, RISC-V,
// PowerPC, SH4, LoongArch): inserting a thunk can push other code further
// away, which can require yet more thunks, so layout repeats until a pass
// adds none.
package layout

import (
	"sort"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/chunk"
	"github.com/uk0/mold/internal/objfile"
)

// PageSize is the ELF load alignment this linker targets; every PT_LOAD
// segment's file offset and virtual address agree modulo PageSize.
const PageSize = 0x1000

// A Thunk records a branch whose direct encoding can't reach its target.
// Layout only reserves Size bytes for it at the end of the caller's output
// section: Addr stays zero, no thunk bytes are written, and the branch's
// relocation is not redirected to it.
type Thunk struct {
	// Section is the out-of-range input section the thunk was inserted
	// near.
	Section *objfile.InputSection
	// Target is the section the original branch needed to reach.
	Target *objfile.InputSection
	Addr   uint64
	Size   uint64
}

// Result is the output of a completed layout pass.
type Result struct {
	Sections []*chunk.OutputSection
	Thunks   []*Thunk
}

// Assign lays out sections starting at baseAddr (the image base, typically
// a target-specific default when not overridden by a linker script), and
// runs the thunk fixpoint for targets that need one.
func Assign(sections []*chunk.OutputSection, target *arch.Target, baseAddr uint64) *Result {
	assignAddrs(sections, baseAddr)

	res := &Result{Sections: sections}
	if target.Thunks.HasLimitedRange {
		res.Thunks = fixpointThunks(sections, target, baseAddr)
		// Inserting thunks can grow a section; re-run address
		// assignment so every later section shifts accordingly.
		assignAddrs(sections, baseAddr)
	}

	return res
}

func assignAddrs(sections []*chunk.OutputSection, baseAddr uint64) {
	addr := baseAddr
	offset := uint64(0)
	for _, out := range sections {
		addr = alignUp(addr, maxUint64(out.Align, 1))
		offset = alignUp(offset, maxUint64(out.Align, 1))
		out.Addr = addr
		out.Offset = offset
		if !out.Flags.Has(objfile.SHFAlloc) {
			out.Addr = 0
		}
		for _, m := range out.Members {
			m.OutputAddr = out.Addr + m.OutputOffset
		}
		if !out.Flags.Has(objfile.SHFAlloc) {
			// Non-allocatable sections (debug info) only need a
			// file offset, not an address in the image.
			offset += out.Size
			continue
		}
		addr += out.Size
		offset += out.Size
	}
}

// fixpointThunks scans every alive section's relocations for branches whose
// computed displacement exceeds the target's range, inserting one thunk
// per out-of-range (caller section, callee) pair and re-measuring until a
// full pass finds nothing new to insert. Addresses are reassigned from
// baseAddr after every pass that adds thunks.
func fixpointThunks(sections []*chunk.OutputSection, target *arch.Target, baseAddr uint64) []*Thunk {
	var all []*Thunk
	seen := map[[2]*objfile.InputSection]bool{}

	for pass := 0; pass < 8; pass++ { // bounded: real linkers converge in a handful of passes
		var added []*Thunk
		for _, out := range sections {
			for _, s := range out.Members {
				for _, r := range s.Relocs {
					if r.Symbol == objfile.NoSymID {
						continue
					}
					sym := s.File.Sym(r.Symbol)
					if sym == nil || sym.Section == nil {
						continue
					}
					disp := int64(sym.Section.OutputAddr+sym.Value) - int64(s.OutputAddr+r.Addr)
					if disp <= target.Thunks.MaxForward && disp >= -target.Thunks.MaxBackward {
						continue
					}
					key := [2]*objfile.InputSection{s, sym.Section}
					if seen[key] {
						continue
					}
					seen[key] = true
					th := &Thunk{Section: s, Target: sym.Section, Size: thunkSize(target)}
					added = append(added, th)
				}
			}
		}
		if len(added) == 0 {
			break
		}
		all = append(all, added...)
		growForThunks(sections, added)
		assignAddrs(sections, baseAddr)
	}
	return all
}

// growForThunks appends each new thunk's bytes to the end of its caller's
// output section, nudging every later section's address in the next
// assignAddrs pass.
func growForThunks(sections []*chunk.OutputSection, added []*Thunk) {
	bySection := map[*chunk.OutputSection]uint64{}
	for _, th := range added {
		if th.Section.Output == nil {
			continue
		}
		out := th.Section.Output.(*chunk.OutputSection)
		bySection[out] += th.Size
	}
	for out, extra := range bySection {
		out.Size += extra
	}
}

func thunkSize(target *arch.Target) uint64 {
	switch target.GoArch {
	case "arm", "armeb":
		return 12 // three 4-byte words
	case "arm64", "arm64_be":
		return 16 // four 4-byte words
	default:
		return 16
	}
}

// SortedByAddr returns sections ordered by their assigned address, useful
// for program-header construction once layout has run.
func SortedByAddr(sections []*chunk.OutputSection) []*chunk.OutputSection {
	out := append([]*chunk.OutputSection(nil), sections...)
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
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
