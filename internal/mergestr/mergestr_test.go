// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mergestr

import (
	"sync"
	"testing"

	"github.com/uk0/mold/internal/objfile"
)

func TestInternDeduplicates(t *testing.T) {
	tbl := NewTable()
	o1 := tbl.Intern([]byte("hello\x00"))
	o2 := tbl.Intern([]byte("world\x00"))
	o3 := tbl.Intern([]byte("hello\x00"))
	if o1 != o3 {
		t.Fatalf("same bytes interned twice got different offsets: %d vs %d", o1, o3)
	}
	if o1 == o2 {
		t.Fatalf("different bytes got the same offset")
	}
	if tbl.Size() != uint64(len("hello\x00")+len("world\x00")) {
		t.Fatalf("Size() = %d, want sum of two distinct fragments", tbl.Size())
	}
}

func TestInternConcurrentSameKey(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	offsets := make([]uint64, 64)
	for i := range offsets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offsets[i] = tbl.Intern([]byte("shared\x00"))
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(offsets); i++ {
		if offsets[i] != offsets[0] {
			t.Fatalf("concurrent interning of the same key produced divergent offsets")
		}
	}
	if tbl.Size() != uint64(len("shared\x00")) {
		t.Fatalf("Size() = %d, want a single fragment's worth", tbl.Size())
	}
}

func TestMergeSectionAndOffsetFor(t *testing.T) {
	data := []byte("foo\x00bar\x00")
	s := &objfile.InputSection{Data: data, Flags: objfile.SHFMerge | objfile.SHFStrings}
	s.Merge = &objfile.MergeableSection{
		Parent:    s,
		IsStrings: true,
		Fragments: []objfile.Fragment{
			{Offset: 0, Bytes: data[0:4]},
			{Offset: 4, Bytes: data[4:8]},
		},
	}

	tbl := NewTable()
	offsets := MergeSection(tbl, s)
	if len(offsets) != 2 {
		t.Fatalf("got %d offsets, want 2", len(offsets))
	}

	got, ok := OffsetFor(s, 5, offsets) // one byte into "bar\x00"
	if !ok {
		t.Fatalf("OffsetFor(5) not found")
	}
	if want := offsets[1] + 1; got != want {
		t.Errorf("OffsetFor(5) = %d, want %d", got, want)
	}
}
