// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relocapply

import (
	"testing"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/chunk"
	"github.com/uk0/mold/internal/objfile"
)

func TestApplyAbsoluteRelocation(t *testing.T) {
	target := arch.X86_64
	f := &objfile.InputFile{Target: target}
	callee := &objfile.Symbol{Name: "callee", Kind: objfile.SymDefined, Value: 0x2000}
	f.Symbols = []*objfile.Symbol{callee}

	s := &objfile.InputSection{
		File:       f,
		Name:       ".text",
		Size:       8,
		OutputAddr: 0x1000,
		Relocs:     []objfile.Reloc{{Addr: 0, Type: 1 /* R_X86_64_64 */, Symbol: 0, Addend: 4}},
	}
	s.SetAlive()
	s.Output = &chunk.OutputSection{Offset: 0}

	out := make([]byte, 8)
	vals := SymbolValue{Resolve: func(sym *objfile.Symbol) (uint64, bool) { return sym.Value, true }}

	errs := Apply([]*objfile.InputSection{s}, target, vals, out)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	got := target.Layout.Uint64(out)
	if want := uint64(0x2004); got != want {
		t.Errorf("patched value = %#x, want %#x", got, want)
	}
}

func TestApplyPCRelativeRelocation(t *testing.T) {
	target := arch.X86_64
	f := &objfile.InputFile{Target: target}
	callee := &objfile.Symbol{Name: "callee", Kind: objfile.SymDefined, Value: 0x3000}
	f.Symbols = []*objfile.Symbol{callee}

	s := &objfile.InputSection{
		File:       f,
		Name:       ".text",
		Size:       4,
		OutputAddr: 0x1000,
		Relocs:     []objfile.Reloc{{Addr: 0, Type: 2 /* R_X86_64_PC32 */, Symbol: 0, Addend: -4}},
	}
	s.SetAlive()
	s.Output = &chunk.OutputSection{Offset: 0}

	out := make([]byte, 4)
	vals := SymbolValue{Resolve: func(sym *objfile.Symbol) (uint64, bool) { return sym.Value, true }}

	errs := Apply([]*objfile.InputSection{s}, target, vals, out)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	got := int32(target.Layout.Uint32(out))
	want := int32(0x3000 - 4 - 0x1000)
	if got != want {
		t.Errorf("patched PC32 = %#x, want %#x", got, want)
	}
}

func TestApplyUndefinedSymbolIsError(t *testing.T) {
	target := arch.X86_64
	f := &objfile.InputFile{Target: target}
	undef := &objfile.Symbol{Name: "missing", Kind: objfile.SymUndef}
	f.Symbols = []*objfile.Symbol{undef}

	s := &objfile.InputSection{
		File:       f,
		Size:       8,
		OutputAddr: 0x1000,
		Relocs:     []objfile.Reloc{{Addr: 0, Type: 1, Symbol: 0}},
	}
	s.SetAlive()
	s.Output = &chunk.OutputSection{Offset: 0}

	out := make([]byte, 8)
	vals := SymbolValue{Resolve: func(sym *objfile.Symbol) (uint64, bool) { return 0, false }}

	errs := Apply([]*objfile.InputSection{s}, target, vals, out)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
}

func TestApplySkipsDeadAndFoldedSections(t *testing.T) {
	target := arch.X86_64
	dead := &objfile.InputSection{Size: 8, Relocs: []objfile.Reloc{{Type: 1}}}
	folded := &objfile.InputSection{Size: 8, Relocs: []objfile.Reloc{{Type: 1}}}
	folded.SetAlive()
	folded.ICFRepresentative = &objfile.InputSection{}

	out := make([]byte, 8)
	errs := Apply([]*objfile.InputSection{dead, folded}, target, SymbolValue{}, out)
	if len(errs) != 0 {
		t.Fatalf("dead/folded sections should be skipped entirely, got %v", errs)
	}
}

func TestApplyUnsupportedTargetReportsError(t *testing.T) {
	s := &objfile.InputSection{
		Size:       4,
		Type:       objfile.SHTProgbits,
		OutputAddr: 0,
		Relocs:     []objfile.Reloc{{Addr: 0, Type: 1}},
	}
	s.SetAlive()
	out := make([]byte, 4)
	errs := Apply([]*objfile.InputSection{s}, arch.PPC32, SymbolValue{}, out)
	if len(errs) != 1 {
		t.Fatalf("expected one error for a target with no RelocSet, got %v", errs)
	}
}
