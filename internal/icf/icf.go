// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package icf implements Identical Code Folding (spec.md §4.6): sections
// whose instructions and relocation structure are indistinguishable are
// merged into one, and every reference to the folded duplicates is
// redirected to a single surviving representative.
//
// Two sections are foldable if their bytes are equal once relocated bytes
// are masked out, and their relocations target sections that are
// themselves (so far) considered equivalent. Because "equivalent" is
// circular (two call sites are equivalent if their callees are
// equivalent), folding proceeds by iterative refinement: start with one
// big partition per masked-byte pattern, then repeatedly split partitions
// whose members' relocations disagree on which partition they point into,
// until a full pass makes no further splits (spec.md §4.6).
package icf

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/objfile"
)

// Run partitions candidate sections into equivalence classes and sets
// ICFClass/ICFRepresentative on every member (spec.md §3). It returns the
// number of sections folded away (i.e. not chosen as their class's
// representative).
func Run(sections []*objfile.InputSection, target *arch.Target) (folded int) {
	candidates := make([]*objfile.InputSection, 0, len(sections))
	for _, s := range sections {
		if eligible(s) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) < 2 {
		return 0
	}

	rs := arch.RelocSetFor(target)
	keyOf := make(map[*objfile.InputSection]string, len(candidates))
	for _, s := range candidates {
		keyOf[s] = maskedKey(s, rs, target)
	}

	// Initial partition: group by masked byte pattern. Sections with
	// distinct patterns can never be equivalent no matter what their
	// relocations point to.
	classes := partitionByKey(candidates, keyOf)

	// Iteratively refine: within a class, two sections stay together
	// only if every one of their relocations (in order) points into the
	// same class as each other. Repeat until stable.
	for {
		classOf := make(map[*objfile.InputSection]int, len(candidates))
		id := 0
		for _, members := range classes {
			for _, s := range members {
				classOf[s] = id
			}
			id++
		}

		next := map[string][]*objfile.InputSection{}
		changed := false
		for key, members := range classes {
			if len(members) < 2 {
				continue
			}
			groups := map[string][]*objfile.InputSection{}
			for _, s := range members {
				sig := relocSignature(s, classOf)
				groups[sig] = append(groups[sig], s)
			}
			if len(groups) > 1 {
				changed = true
			}
			for sig, g := range groups {
				next[key+"\x00"+sig] = g
			}
		}
		if !changed {
			break
		}
		classes = next
	}

	nextClassID := int64(1)
	for _, members := range classes {
		if len(members) < 2 {
			continue
		}
		rep := representative(members)
		classID := nextClassID
		nextClassID++
		for _, s := range members {
			s.ICFClass = classID
			if s != rep {
				s.ICFRepresentative = rep
				folded++
			}
		}
	}
	return folded
}

// eligible reports whether a section is a candidate for folding: it must
// be live code or read-only data with fixed contents, since anything
// writable could be distinguished by identity at runtime (spec.md §4.6's
// exclusion of writable/mergeable sections).
func eligible(s *objfile.InputSection) bool {
	if !s.Alive() {
		return false
	}
	if !s.Flags.Has(objfile.SHFAlloc) || s.Flags.Has(objfile.SHFWrite) {
		return false
	}
	if s.Merge != nil {
		return false // Merge-string interning already handles these.
	}
	if s.Data == nil || len(s.Data) == 0 {
		return false
	}
	return true
}

// maskedKey returns s's byte content with every relocated byte range
// replaced by zero, turning "same instructions, different callee address"
// sections into the same key. For x86 targets, each masked range is
// widened to the enclosing instruction boundary (found via x86asm.Decode)
// as a defensive check against a relocation size that undershoots an
// instruction's immediate field.
func maskedKey(s *objfile.InputSection, rs *arch.RelocSet, target *arch.Target) string {
	masked := append([]byte(nil), s.Data...)
	for _, r := range s.Relocs {
		size := 4
		if rs != nil {
			if sz := rs.Size(r.Type); sz > 0 {
				size = sz
			}
		}
		lo, hi := clampRange(r.Addr, uint64(size), uint64(len(masked)))
		for i := lo; i < hi; i++ {
			masked[i] = 0
		}
	}
	if target == arch.X86_64 || target == arch.I386 {
		widenX86InstructionBoundaries(masked, s.Relocs, target == arch.I386)
	}
	return string(masked)
}

func clampRange(addr, size, limit uint64) (lo, hi uint64) {
	lo = addr
	hi = addr + size
	if lo > limit {
		lo = limit
	}
	if hi > limit {
		hi = limit
	}
	return lo, hi
}

// widenX86InstructionBoundaries re-masks each relocated byte range to cover
// the full instruction it falls within, so two sections whose only
// difference is, say, a PC-relative displacement that happens to land at a
// slightly different byte offset within an otherwise-identical instruction
// still compare equal.
func widenX86InstructionBoundaries(masked []byte, relocs []objfile.Reloc, bits32 bool) {
	bits := 64
	if bits32 {
		bits = 32
	}
	for _, r := range relocs {
		pc := 0
		for pc < len(masked) {
			inst, err := x86asm.Decode(masked[pc:], bits)
			size := inst.Len
			if err != nil || size == 0 {
				size = 1
			}
			if uint64(pc) <= r.Addr && r.Addr < uint64(pc+size) {
				for i := pc; i < pc+size && i < len(masked); i++ {
					masked[i] = 0
				}
				break
			}
			pc += size
		}
	}
}

func partitionByKey(sections []*objfile.InputSection, keyOf map[*objfile.InputSection]string) map[string][]*objfile.InputSection {
	out := map[string][]*objfile.InputSection{}
	for _, s := range sections {
		out[keyOf[s]] = append(out[keyOf[s]], s)
	}
	return out
}

// relocSignature summarizes which equivalence classes s's relocations
// point into, in address order, so two sections only stay grouped if their
// call/reference graphs agree.
func relocSignature(s *objfile.InputSection, classOf map[*objfile.InputSection]int) string {
	sig := make([]byte, 0, len(s.Relocs)*9)
	for _, r := range s.Relocs {
		var targetSec *objfile.InputSection
		if r.Symbol != objfile.NoSymID {
			if sym := s.File.Sym(r.Symbol); sym != nil {
				targetSec = sym.Section
			}
		}
		cls, ok := classOf[targetSec]
		if ok {
			sig = append(sig, byte(cls), byte(cls>>8), byte(cls>>16), byte(cls>>24),
				byte(cls>>32), byte(cls>>40), byte(cls>>48), byte(cls>>56), ':')
			continue
		}
		// Target isn't itself an ICF candidate: fold in its identity
		// directly, so two sections referencing different
		// non-candidate targets split apart, as spec.md §4.6
		// requires.
		sig = append(sig, []byte(fmt.Sprintf("%p:", targetSec))...)
	}
	return string(sig)
}

// representative picks the canonical survivor of a folded class: lowest
// (file priority, section index), matching the resolver's own tie-breaking
// so output is deterministic across runs (spec.md §3 "Unique owner").
func representative(members []*objfile.InputSection) *objfile.InputSection {
	best := members[0]
	for _, s := range members[1:] {
		if less(s, best) {
			best = s
		}
	}
	return best
}

func less(a, b *objfile.InputSection) bool {
	if a.File.Priority != b.File.Priority {
		return a.File.Priority < b.File.Priority
	}
	return a.Index < b.Index
}
