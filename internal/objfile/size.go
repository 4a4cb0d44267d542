// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import "sort"

// SynthesizeSizes assigns sizes to symbols that don't carry one, by
// scanning symbols sorted by (section, value) and filling each zero-sized
// symbol up to the next symbol's value or its section's end. Some input
// objects (notably hand-written assembly) omit symbol sizes entirely, and
// GC and ICF both need a size to reason about a symbol's extent.
func SynthesizeSizes(syms []*Symbol) {
	todo := make([]int, 0, len(syms))
	for i, s := range syms {
		if s.Section == nil {
			continue
		}
		if s.Value > s.Section.Size {
			// Past the end of its section: we can't give it a
			// meaningful range, and including it would throw off
			// earlier symbols in the section.
			continue
		}
		todo = append(todo, i)
	}
	sort.Slice(todo, func(i, j int) bool {
		si, sj := syms[todo[i]], syms[todo[j]]
		if si.Section != sj.Section {
			return si.Section.Index < sj.Section.Index
		}
		return si.Value < sj.Value
	})

	for len(todo) != 0 {
		s1 := syms[todo[0]]
		group := 1
		anyZero := s1.Size == 0
		for group < len(todo) {
			s2 := syms[todo[group]]
			if s1.Value != s2.Value || s1.Section != s2.Section {
				break
			}
			if s2.Size == 0 {
				anyZero = true
			}
			group++
		}
		if !anyZero {
			todo = todo[group:]
			continue
		}

		var size uint64
		if group == len(todo) || s1.Section != syms[todo[group]].Section {
			size = s1.Section.Size - s1.Value
		} else {
			size = syms[todo[group]].Value - s1.Value
		}

		for _, i := range todo[:group] {
			if syms[i].Size == 0 {
				syms[i].Size = size
				syms[i].SetSizeSynthesized()
			}
		}
		todo = todo[group:]
	}
}
