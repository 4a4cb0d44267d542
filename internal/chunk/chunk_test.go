// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk

import (
	"testing"

	"github.com/uk0/mold/internal/objfile"
)

func alive(name string, size, align uint64) *objfile.InputSection {
	s := &objfile.InputSection{Name: name, Size: size, Align: align, Flags: objfile.SHFAlloc}
	s.SetAlive()
	return s
}

func TestFoldName(t *testing.T) {
	tests := map[string]string{
		".text.foo":  ".text",
		".text":      ".text",
		".data.rel.ro.local": ".data.rel.ro",
		".note.gnu.build-id": ".note.gnu.build-id",
	}
	for in, want := range tests {
		if got := FoldName(in); got != want {
			t.Errorf("FoldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlanGroupsAndOrdersSections(t *testing.T) {
	f1 := alive(".text.a", 16, 16)
	f2 := alive(".text.b", 8, 8)
	bss := alive(".bss", 4, 4)
	dead := &objfile.InputSection{Name: ".text.dead", Size: 100} // never marked alive

	out := Plan([]*objfile.InputSection{bss, f1, dead, f2})
	if len(out) != 2 {
		t.Fatalf("got %d output sections, want 2 (.text, .bss)", len(out))
	}
	if out[0].Name != ".text" || out[1].Name != ".bss" {
		t.Fatalf("output order = %v, want [.text .bss]", []string{out[0].Name, out[1].Name})
	}
	if out[0].Size != 24 {
		t.Errorf(".text size = %d, want 24", out[0].Size)
	}
	if f1.Output != out[0] || f2.Output != out[0] {
		t.Errorf("member sections weren't linked back to their OutputSection")
	}
	if f2.OutputOffset != 16 {
		t.Errorf("f2.OutputOffset = %d, want 16", f2.OutputOffset)
	}
}

func TestPlanSkipsICFFoldedMembers(t *testing.T) {
	rep := alive(".text.f1", 8, 8)
	dup := alive(".text.f2", 8, 8)
	dup.ICFRepresentative = rep

	out := Plan([]*objfile.InputSection{rep, dup})
	if len(out) != 1 || len(out[0].Members) != 1 {
		t.Fatalf("ICF-folded duplicate was not excluded from planning")
	}
}

func TestSyntheticChunkAppend(t *testing.T) {
	got := &OutputSection{Name: ".got", Kind: KindSynthetic}
	off1 := got.AppendSynthetic([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	off2 := got.AppendSynthetic([]byte{9, 9, 9, 9, 9, 9, 9, 9})
	if off1 != 0 || off2 != 8 {
		t.Fatalf("offsets = %d, %d; want 0, 8", off1, off2)
	}
	if got.Size != 16 {
		t.Errorf("Size = %d, want 16", got.Size)
	}
}
