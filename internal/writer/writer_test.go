// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package writer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/uk0/mold/internal/chunk"
	"github.com/uk0/mold/internal/objfile"
)

func TestCreateAndWriteSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")

	text := &objfile.InputSection{Name: ".text.a", Size: 4, Data: []byte{0xde, 0xad, 0xbe, 0xef}}
	bss := &objfile.InputSection{Name: ".bss", Size: 4, Data: nil}

	textOut := &chunk.OutputSection{Name: ".text", Size: 4, Offset: 0, Members: []*objfile.InputSection{text}}
	bssOut := &chunk.OutputSection{Name: ".bss", Size: 4, Offset: 4, Members: []*objfile.InputSection{bss}}

	m, err := Create(path, 8, 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Close()

	if err := WriteSections(m, []*chunk.OutputSection{textOut, bssOut}); err != nil {
		t.Fatalf("WriteSections: %v", err)
	}

	want := []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 0}
	if !bytes.Equal(m.Bytes(), want) {
		t.Errorf("image = %x, want %x", m.Bytes(), want)
	}
}

func TestWriteSectionsSynthetic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")

	got := &chunk.OutputSection{Name: ".got", Kind: chunk.KindSynthetic}
	got.AppendSynthetic([]byte{1, 2, 3, 4})
	got.Offset = 0
	got.Size = 4

	m, err := Create(path, 4, 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Close()

	if err := WriteSections(m, []*chunk.OutputSection{got}); err != nil {
		t.Fatalf("WriteSections: %v", err)
	}
	if !bytes.Equal(m.Bytes(), []byte{1, 2, 3, 4}) {
		t.Errorf("got %x, want synthetic bytes", m.Bytes())
	}
}

func TestComputeBuildIDExcludesItsOwnBytes(t *testing.T) {
	image := make([]byte, 32)
	for i := range image {
		image[i] = byte(i)
	}
	placeholder := make([]byte, 32)
	copy(placeholder, image)
	for i := 10; i < 10+BuildIDSize && i < len(placeholder); i++ {
		placeholder[i] = 0
	}

	id1 := ComputeBuildID(image, 10, BuildIDSize)
	id2 := ComputeBuildID(placeholder, 10, BuildIDSize)
	if !bytes.Equal(id1, id2) {
		t.Errorf("build-id changed when only the excluded region differed")
	}
	if len(id1) != BuildIDSize {
		t.Errorf("len(id) = %d, want %d", len(id1), BuildIDSize)
	}
}

func TestCreateTruncatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	if err := os.WriteFile(path, []byte("stale contents that should be gone"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Create(path, 4, 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Close()
	if len(m.Bytes()) != 4 {
		t.Fatalf("len(Bytes()) = %d, want 4", len(m.Bytes()))
	}
}
