// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import "testing"

func TestSymbolBoundsAndData(t *testing.T) {
	sec := &InputSection{Name: ".rodata", Data: []byte("hello, world")}
	sym := &Symbol{Name: "msg", Section: sec, Value: 0, Size: 5, Kind: SymDefined}

	data, err := sym.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Data() = %q, want %q", data, "hello")
	}

	undef := &Symbol{Name: "extern_thing", Kind: SymUndef}
	if _, err := undef.Data(); err == nil {
		t.Errorf("undefined symbol's Data() unexpectedly succeeded")
	}
}

func TestSymFlags(t *testing.T) {
	var f SymFlags
	if f.Exported() || f.Wrapped() || f.SizeSynthesized() {
		t.Fatalf("zero-value SymFlags reports a flag set")
	}
	f.SetExported()
	f.SetWrapped()
	if !f.Exported() || !f.Wrapped() {
		t.Errorf("SetExported/SetWrapped did not stick")
	}
	if f.SizeSynthesized() {
		t.Errorf("SetExported/SetWrapped unexpectedly set SizeSynthesized")
	}
}
