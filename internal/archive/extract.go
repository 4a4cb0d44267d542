// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"fmt"

	"github.com/uk0/mold/internal/objfile"
)

// ReadObject parses one archive member as an ELF relocatable object,
// stamping its Provenance.Archive/Member so diagnostics can name where it
// came from.
func ReadObject(a *Archive, m Member, priority int) (*objfile.InputFile, error) {
	f, err := objfile.ReadObject(a.Data(m), objfile.Provenance{
		Path:     m.Name,
		Archive:  a.Path,
		Member:   m.Name,
		Priority: priority,
	})
	if err != nil {
		return nil, fmt.Errorf("%s(%s): %w", a.Path, m.Name, err)
	}
	return f, nil
}

// UndefinedSymbols reports, as of the current point in resolution, which
// global symbol names are still referenced but undefined. Extract calls
// this once per round; internal/resolve.Table implements it.
type UndefinedSymbols interface {
	Undefined() []string
}

// Extract runs the archive extraction fixpoint of spec.md §4.3: repeatedly
// scan a's members for one that defines a symbol currently undefined, pull
// it into the link via onExtract, and repeat until a full pass over the
// remaining members adds nothing new. undef is typically
// internal/resolve.Table, so that newly extracted members' own undefined
// references feed back into the next round.
//
// wholeArchive forces every member to be extracted regardless of whether
// anything currently references it (--whole-archive, spec.md's
// supplemented archive-handling features).
//
// Extract only drives a single archive to its own fixpoint. A link line
// with more than one archive needs a fixpoint across all of them together
// (mutually recursive archives, spec.md §8 scenario 1: main.o -la -lb where
// liba and libb each satisfy references pulled in by the other) — use
// Extractor for that instead, since it remembers what it already extracted
// across repeated Round calls instead of rescanning from empty state.
func Extract(a *Archive, priority int, undef UndefinedSymbols, wholeArchive bool, onExtract func(*objfile.InputFile) error) error {
	e := NewExtractor(a, priority, wholeArchive)
	for {
		n, err := e.Round(undef, onExtract)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Extractor drives repeated extraction rounds against a single archive,
// remembering which members it has already pulled in. A caller orchestrating
// several archives together (internal/link) calls Round on each in turn,
// round-robin, until one full outer pass over every Extractor reports zero
// newly extracted members — that is the cross-archive fixpoint spec.md §4.3
// requires.
type Extractor struct {
	a            *Archive
	priority     int
	wholeArchive bool
	extracted    map[string]bool
	wholeDone    bool
}

// NewExtractor prepares a to be drained one round at a time.
func NewExtractor(a *Archive, priority int, wholeArchive bool) *Extractor {
	return &Extractor{a: a, priority: priority, wholeArchive: wholeArchive, extracted: make(map[string]bool, len(a.Members))}
}

// Round scans the archive once against undef's current view of outstanding
// references, extracting every member that newly satisfies one of them (or,
// for a --whole-archive member, extracting it unconditionally the first time
// Round is called). It reports how many members this round extracted, so the
// caller can tell when the fixpoint across all archives has settled.
func (e *Extractor) Round(undef UndefinedSymbols, onExtract func(*objfile.InputFile) error) (int, error) {
	if e.wholeArchive {
		if e.wholeDone {
			return 0, nil
		}
		e.wholeDone = true
		for _, m := range e.a.Members {
			f, err := ReadObject(e.a, m, e.priority)
			if err != nil {
				return 0, err
			}
			if err := onExtract(f); err != nil {
				return 0, err
			}
		}
		return len(e.a.Members), nil
	}

	wanted := undef.Undefined()
	n := 0
	for _, m := range e.a.Members {
		if e.extracted[m.Name] {
			continue
		}
		if !memberDefinesAny(e.a, m, wanted) {
			continue
		}
		f, err := ReadObject(e.a, m, e.priority)
		if err != nil {
			return n, err
		}
		e.extracted[m.Name] = true
		if err := onExtract(f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// memberDefinesAny peeks at a member's symbol table to see whether it
// defines any of the given names, without fully materializing it into the
// link (that only happens once Extract decides to call onExtract).
func memberDefinesAny(a *Archive, m Member, wanted []string) bool {
	if len(wanted) == 0 {
		return false
	}
	f, err := objfile.ReadObject(a.Data(m), objfile.Provenance{Path: m.Name})
	if err != nil {
		return false
	}
	want := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		want[w] = true
	}
	for _, sym := range f.Symbols {
		if sym.Kind == objfile.SymUndef || sym.Binding == objfile.BindLocal {
			continue
		}
		if want[sym.Name] {
			return true
		}
	}
	return false
}
