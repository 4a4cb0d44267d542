// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolve implements the global symbol table of spec.md §4.4: it
// owns the single authoritative binding for every symbol name across all
// input files, applying the precedence rules (strong beats weak beats
// undefined, first file wins ties, common-symbol merging) and exposes the
// result to GC, layout, and relocation application. COMDAT groups are not
// elected here: nothing sets objfile.Comdat.Selected.
package resolve

import (
	"fmt"
	"sort"
	"sync"

	"github.com/uk0/mold/internal/objfile"
)

// A Binding is the resolver's decision for one global symbol name: which
// file and symbol currently own it.
type Binding struct {
	Name   string
	File   *objfile.InputFile
	Symbol *objfile.Symbol
}

// Defined reports whether the binding has a real definition backing it, as
// opposed to still being an unsatisfied reference.
func (b *Binding) Defined() bool {
	return b.Symbol != nil && b.Symbol.Kind != objfile.SymUndef
}

// Table is the global symbol table. It's built incrementally as files are
// added (including files extracted from archives mid-resolution, driven by
// internal/archive.Extract), and is safe for one resolution pass; it is not
// a general-purpose concurrent map.
type Table struct {
	mu       sync.Mutex
	bindings map[string]*Binding
	// order preserves first-seen order for deterministic --wrap/error
	// reporting and undefined-symbol listing.
	order []string

	files []*objfile.InputFile

	// wraps maps a wrapped name to its replacement, populated by
	// ApplyWraps (spec.md's supplemented --wrap feature).
	wraps map[string]string
}

// NewTable returns an empty global symbol table.
func NewTable() *Table {
	return &Table{bindings: map[string]*Binding{}, wraps: map[string]string{}}
}

// AddFile merges one InputFile's global symbols into the table, applying
// the resolution precedence rules of spec.md §4.4 rule 1:
//
//  1. A strong (non-weak) definition always beats a weak definition or an
//     undefined reference.
//  2. Between two strong definitions, the file added first wins; a
//     duplicate strong definition from a later file is a link error
//     (multiple definition).
//  3. Common symbols (tentative definitions) merge by taking the largest
//     size and the strictest alignment across every file that declares
//     one, and are satisfied by the first real (non-common) definition
//     seen for that name.
func (t *Table) AddFile(f *objfile.InputFile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, f)

	for _, sym := range f.Symbols {
		if sym.Binding == objfile.BindLocal || sym.Name == "" {
			continue
		}
		if err := t.mergeLocked(f, sym); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) mergeLocked(f *objfile.InputFile, sym *objfile.Symbol) error {
	existing, ok := t.bindings[sym.Name]
	if !ok {
		t.bindings[sym.Name] = &Binding{Name: sym.Name, File: f, Symbol: sym}
		t.order = append(t.order, sym.Name)
		return nil
	}

	switch {
	case sym.Kind == objfile.SymUndef:
		// An undefined reference never displaces an existing binding,
		// defined or not: the first-seen reference is kept as the
		// representative for diagnostics.
		return nil

	case !existing.Defined():
		// The existing binding was only a reference (or nothing
		// useful); any real definition now satisfies it.
		existing.File, existing.Symbol = f, sym
		return nil

	case existing.Symbol.Kind == objfile.SymCommon && sym.Kind == objfile.SymCommon:
		if sym.Size > existing.Symbol.Size {
			existing.Symbol.Size = sym.Size
		}
		if sym.Value > existing.Symbol.Value { // Value holds alignment for commons.
			existing.Symbol.Value = sym.Value
		}
		return nil

	case existing.Symbol.Kind == objfile.SymCommon && sym.Kind != objfile.SymCommon:
		// A real definition always satisfies a pending common.
		existing.File, existing.Symbol = f, sym
		return nil

	case existing.Symbol.Kind != objfile.SymCommon && sym.Kind == objfile.SymCommon:
		// Existing real definition already satisfies this common.
		return nil

	case existing.Symbol.Binding == objfile.BindWeak && sym.Binding != objfile.BindWeak:
		existing.File, existing.Symbol = f, sym
		return nil

	case existing.Symbol.Binding != objfile.BindWeak && sym.Binding == objfile.BindWeak:
		// Existing strong definition wins over a later weak one.
		return nil

	case existing.Symbol.Binding == objfile.BindWeak && sym.Binding == objfile.BindWeak:
		// Two weak definitions: first one wins, matching ld's
		// observed behavior.
		return nil

	default:
		return fmt.Errorf("multiple definition of %q: %s and %s", sym.Name, existing.File.Provenance, f.Provenance)
	}
}

// Lookup returns the current binding for name, or nil if name has never
// been referenced or defined.
func (t *Table) Lookup(name string) *Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	if real, ok := t.wraps[name]; ok {
		name = real
	}
	return t.bindings[name]
}

// Undefined returns the names that are referenced but have no real
// definition, in first-seen order. internal/archive.Extract polls this
// between extraction rounds.
func (t *Table) Undefined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, name := range t.order {
		if b := t.bindings[name]; !b.Defined() {
			out = append(out, name)
		}
	}
	return out
}

// Files returns every file added to the table so far, in addition order.
func (t *Table) Files() []*objfile.InputFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*objfile.InputFile, len(t.files))
	copy(out, t.files)
	return out
}

// ApplyWraps implements --wrap=SYMBOL (spec.md's supplemented feature):
// every reference to SYMBOL is redirected to __wrap_SYMBOL, and
// __real_SYMBOL is redirected to the original definition of SYMBOL. It
// must run after every file has been added and before relocation
// application consults bindings.
func (t *Table) ApplyWraps(names []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		wrap, real := "__wrap_"+name, "__real_"+name
		if _, ok := t.bindings[wrap]; !ok {
			return fmt.Errorf("--wrap=%s: %s is not defined", name, wrap)
		}
		original := t.bindings[name]
		t.wraps[name] = wrap
		if original != nil {
			t.bindings[real] = &Binding{Name: real, File: original.File, Symbol: original.Symbol}
		}
	}
	return nil
}

// SortedNames returns every resolved name in a stable, deterministic order,
// for use by callers (e.g. the symbol table writer, map-file renderer)
// that must produce reproducible output.
func (t *Table) SortedNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.bindings))
	for name := range t.bindings {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
