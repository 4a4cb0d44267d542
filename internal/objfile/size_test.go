// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import "testing"

func TestSynthesizeSizes(t *testing.T) {
	sec := &InputSection{Name: ".text", Index: 0, Size: 100}
	syms := []*Symbol{
		{Name: "a", Section: sec, Value: 0, Size: 0, Kind: SymDefined},
		{Name: "b", Section: sec, Value: 16, Size: 0, Kind: SymDefined},
		{Name: "c", Section: sec, Value: 16, Size: 0, Kind: SymDefined}, // alias of b
		{Name: "d", Section: sec, Value: 40, Size: 8, Kind: SymDefined}, // already sized
		{Name: "e", Section: sec, Value: 90, Size: 0, Kind: SymDefined}, // runs to section end
		{Name: "undef", Kind: SymUndef},
	}

	SynthesizeSizes(syms)

	if syms[0].Size != 16 || !syms[0].SizeSynthesized() {
		t.Errorf("a: size = %d, synthesized = %v; want 16, true", syms[0].Size, syms[0].SizeSynthesized())
	}
	if syms[1].Size != 24 || syms[2].Size != 24 {
		t.Errorf("b/c: sizes = %d, %d; want 24, 24", syms[1].Size, syms[2].Size)
	}
	if syms[3].Size != 8 || syms[3].SizeSynthesized() {
		t.Errorf("d: size = %d, synthesized = %v; want 8, false (pre-set size must survive)", syms[3].Size, syms[3].SizeSynthesized())
	}
	if syms[4].Size != 10 {
		t.Errorf("e: size = %d; want 10 (runs to section end)", syms[4].Size)
	}
	if syms[5].Size != 0 {
		t.Errorf("undef: size = %d; want 0 (undefined symbols are never sized)", syms[5].Size)
	}
}
