// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import "testing"

func TestInputSectionAliveness(t *testing.T) {
	s := &InputSection{Name: ".text"}
	if s.Alive() {
		t.Fatalf("new section reports alive before GC runs")
	}
	s.SetAlive()
	if !s.Alive() {
		t.Errorf("SetAlive did not stick")
	}
	s.SetAlive() // redundant marks must be harmless
	if !s.Alive() {
		t.Errorf("redundant SetAlive cleared liveness")
	}
	s.Kill()
	if s.Alive() {
		t.Errorf("Kill did not clear liveness")
	}
}

func TestInputSectionMarkVisited(t *testing.T) {
	s := &InputSection{Name: ".text"}
	if s.MarkVisited() {
		t.Fatalf("first MarkVisited reported already visited")
	}
	if !s.MarkVisited() {
		t.Errorf("second MarkVisited did not report already visited")
	}
}

func TestCanHaveRelocs(t *testing.T) {
	tests := []struct {
		typ  SectionType
		want bool
	}{
		{SHTProgbits, true},
		{SHTNobits, true},
		{SHTSymtab, false},
		{SHTStrtab, false},
		{SHTRela, false},
		{SHTLoproc, true},
	}
	for _, test := range tests {
		s := &InputSection{Type: test.typ}
		if got := s.CanHaveRelocs(); got != test.want {
			t.Errorf("CanHaveRelocs() for type %v = %v, want %v", test.typ, got, test.want)
		}
	}
}

func TestMergeStringFragments(t *testing.T) {
	data := []byte("foo\x00bar\x00")
	s := &InputSection{Name: ".rodata.str1.1", Data: data, Flags: SHFMerge | SHFStrings}
	m := splitMergeFragments(s, true, 1)
	if len(m.Fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(m.Fragments))
	}
	if string(m.Fragments[0].Bytes) != "foo\x00" || string(m.Fragments[1].Bytes) != "bar\x00" {
		t.Errorf("fragments = %q, %q", m.Fragments[0].Bytes, m.Fragments[1].Bytes)
	}
	if m.Fragments[0].Hash == 0 || m.Fragments[0].Hash == m.Fragments[1].Hash {
		t.Errorf("fragment hashes look wrong: %#x, %#x", m.Fragments[0].Hash, m.Fragments[1].Hash)
	}
}

func TestMergeConstantFragments(t *testing.T) {
	data := make([]byte, 24) // three 8-byte entries
	for i := range data {
		data[i] = byte(i / 8)
	}
	s := &InputSection{Name: ".data.rel.ro", Data: data, Flags: SHFMerge}
	m := splitMergeFragments(s, false, 8)
	if len(m.Fragments) != 3 {
		t.Fatalf("got %d fragments, want 3", len(m.Fragments))
	}
	if m.Fragments[1].Offset != 8 {
		t.Errorf("second fragment offset = %d, want 8", m.Fragments[1].Offset)
	}
}
