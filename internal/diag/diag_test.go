// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import "testing"

func TestBagDrainIsSortedDeterministically(t *testing.T) {
	b := NewBag()
	b.Warnf("b.o", ".text", 0x10, "text relocation")
	b.Errorf("a.o", ".data", 0x4, "undefined reference")
	b.Errorf("a.o", ".data", 0x0, "undefined reference to bar")

	got := b.Drain()
	if len(got) != 3 {
		t.Fatalf("got %d findings, want 3", len(got))
	}
	if got[0].File != "a.o" || got[0].Offset != 0x0 {
		t.Errorf("first finding = %+v, want a.o offset 0", got[0])
	}
	if got[1].File != "a.o" || got[1].Offset != 0x4 {
		t.Errorf("second finding = %+v, want a.o offset 4", got[1])
	}
	if got[2].File != "b.o" {
		t.Errorf("third finding = %+v, want b.o", got[2])
	}
}

func TestBagFatalFlag(t *testing.T) {
	b := NewBag()
	if b.Fatal() {
		t.Fatalf("fresh bag reports fatal")
	}
	b.Warnf("a.o", "", 0, "just a warning")
	if b.Fatal() {
		t.Fatalf("warning alone should not set the fatal flag")
	}
	b.Fatalf("a.o", "", 0, "bad ELF magic")
	if !b.Fatal() {
		t.Fatalf("Fatalf should set the fatal flag")
	}
}

func TestBagHasErrors(t *testing.T) {
	b := NewBag()
	b.Warnf("a.o", "", 0, "non-fatal")
	if b.HasErrors() {
		t.Fatalf("warnings alone should not count as errors")
	}
	b.Errorf("a.o", "", 0, "multiple definition of x")
	if !b.HasErrors() {
		t.Fatalf("an Errorf-level finding should count as an error")
	}
}

func TestLoggerWithoutJSONPath(t *testing.T) {
	logger, closeFn, err := Logger("")
	if err != nil {
		t.Fatalf("Logger(\"\"): %v", err)
	}
	defer closeFn()
	logger.Info("pipeline started")
}

func TestLoggerWithJSONPath(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := Logger(dir + "/diag.json")
	if err != nil {
		t.Fatalf("Logger(json): %v", err)
	}
	defer closeFn()
	logger.Warn("text relocation", "file", "a.o")
}
