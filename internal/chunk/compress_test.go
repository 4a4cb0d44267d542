// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/uk0/mold/internal/objfile"
)

func debugSection(name string, data []byte) *objfile.InputSection {
	s := &objfile.InputSection{Name: name, Size: uint64(len(data)), Data: data}
	s.SetAlive()
	return s
}

func TestCompressDebugSectionsZlibRoundTrips(t *testing.T) {
	raw := bytes.Repeat([]byte("debug info padding "), 50)
	sections := Plan([]*objfile.InputSection{debugSection(".debug_str", raw)})

	out := CompressDebugSections(sections, CompressZlib, binary.LittleEndian, nil)
	if len(out) != 1 {
		t.Fatalf("got %d sections, want 1", len(out))
	}
	if out[0].Kind != KindSynthetic {
		t.Fatalf("compressed section should be synthetic, got %v", out[0].Kind)
	}
	if out[0].Flags&objfile.SHFCompressed == 0 {
		t.Errorf("compressed section missing SHFCompressed flag")
	}

	payload := out[0].Bytes()
	if len(payload) < 24 {
		t.Fatalf("payload too short for an Elf64_Chdr: %d bytes", len(payload))
	}
	gotSize := binary.LittleEndian.Uint64(payload[8:16])
	if gotSize != uint64(len(raw)) {
		t.Errorf("Chdr.Size = %d, want %d", gotSize, len(raw))
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload[24:]))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer zr.Close()
	var got bytes.Buffer
	if _, err := got.ReadFrom(zr); err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	if !bytes.Equal(got.Bytes(), raw) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", got.Len(), len(raw))
	}
}

func TestCompressDebugSectionsSkipsRelocatedSections(t *testing.T) {
	s := debugSection(".debug_info", []byte("abcdefgh"))
	s.Relocs = []objfile.Reloc{{Addr: 0, Type: 1}}
	sections := Plan([]*objfile.InputSection{s})

	var warned string
	out := CompressDebugSections(sections, CompressZlib, binary.LittleEndian, func(name string) { warned = name })
	if len(out) != 1 || out[0].Kind != KindRegular {
		t.Fatalf("relocated debug section should be left alone, got %+v", out)
	}
	if warned != ".debug_info" {
		t.Errorf("warn callback got %q, want .debug_info", warned)
	}
}

func TestCompressDebugSectionsLeavesNonDebugSectionsAlone(t *testing.T) {
	sections := Plan([]*objfile.InputSection{debugSection(".text", []byte{1, 2, 3, 4})})
	out := CompressDebugSections(sections, CompressZlib, binary.LittleEndian, nil)
	if len(out) != 1 || out[0].Kind != KindRegular || out[0].Name != ".text" {
		t.Fatalf("non-debug section should pass through untouched, got %+v", out)
	}
}
