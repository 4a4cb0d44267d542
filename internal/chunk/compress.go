// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/uk0/mold/internal/objfile"
)

// Algorithm names --compress-debug-sections accepts. The caller
// (internal/config) owns the flag parsing; this package only needs to know
// which compressor to reach for.
const (
	CompressZlib = "zlib"
	CompressZstd = "zstd"
)

// CompressDebugSections replaces every live, relocation-free ".debug_*"
// output section with a synthetic SHF_COMPRESSED chunk: the Elf64_Chdr
// header GNU ld and mold both emit, followed by the compressed payload
// (spec.md §6's --compress-debug-sections). alg is CompressZlib or
// CompressZstd; any other value leaves sections untouched.
//
// A debug section that still carries relocations is left uncompressed and
// reported through warn instead, since compressing it here would have to
// run before internal/relocapply gets a chance to patch its bytes, and
// nothing downstream re-expands a compressed section to apply relocations
// to it afterward.
func CompressDebugSections(sections []*OutputSection, alg string, order binary.ByteOrder, warn func(name string)) []*OutputSection {
	if alg != CompressZlib && alg != CompressZstd {
		return sections
	}
	out := make([]*OutputSection, 0, len(sections))
	for _, s := range sections {
		if s.Kind != KindRegular || !isDebugSectionName(s.Name) {
			out = append(out, s)
			continue
		}
		if sectionHasRelocs(s) {
			if warn != nil {
				warn(s.Name)
			}
			out = append(out, s)
			continue
		}
		compressed, err := compressOutputSection(s, alg, order)
		if err != nil {
			if warn != nil {
				warn(s.Name)
			}
			out = append(out, s)
			continue
		}
		out = append(out, compressed)
	}
	return out
}

func isDebugSectionName(name string) bool {
	return strings.HasPrefix(name, ".debug_") || strings.HasPrefix(name, ".zdebug_")
}

func sectionHasRelocs(s *OutputSection) bool {
	for _, m := range s.Members {
		if len(m.Relocs) > 0 {
			return true
		}
	}
	return false
}

// elfCompressionType mirrors debug/elf.CompressionType's on-disk values
// (COMPRESS_ZLIB = 1, COMPRESS_ZSTD = 2) without importing debug/elf just
// for two constants.
func elfCompressionType(alg string) uint32 {
	if alg == CompressZstd {
		return 2
	}
	return 1
}

func compressOutputSection(s *OutputSection, alg string, order binary.ByteOrder) (*OutputSection, error) {
	raw := make([]byte, 0, s.Size)
	for _, m := range s.Members {
		raw = append(raw, m.Data...)
	}

	var payload bytes.Buffer
	switch alg {
	case CompressZlib:
		w := zlib.NewWriter(&payload)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressZstd:
		w, err := zstd.NewWriter(&payload)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("chunk: unknown compression algorithm %q", alg)
	}

	// Elf64_Chdr: ch_type, ch_reserved, ch_size, ch_addralign (24 bytes),
	// matching the layout debug/elf.Chdr64 expects on read-back.
	hdr := make([]byte, 24)
	order.PutUint32(hdr[0:4], elfCompressionType(alg))
	order.PutUint64(hdr[8:16], uint64(len(raw)))
	order.PutUint64(hdr[16:24], maxUint64(s.Align, 1))

	out := &OutputSection{
		Name:  s.Name,
		Kind:  KindSynthetic,
		Flags: s.Flags | objfile.SHFCompressed,
		Type:  s.Type,
		Align: s.Align,
	}
	out.AppendSynthetic(hdr)
	out.AppendSynthetic(payload.Bytes())
	return out, nil
}
