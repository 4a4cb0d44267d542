// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package writer produces the final linked image (spec.md §4.11): it mmaps
// an output file of the exact final size, copies every output chunk's
// bytes into place, and computes the build-id note over the finished
// image before unmapping.
package writer

import (
	"crypto/sha256"
	"fmt"
	"os"
	"syscall"

	"github.com/uk0/mold/internal/chunk"
)

// Mapping is an open, writable mmap of the output file. Every exit path,
// including a fatal error partway through writing, must call Close so the
// mapping and the underlying file descriptor are released.
type Mapping struct {
	f    *os.File
	data []byte
}

// Create truncates path to size and mmaps it PROT_WRITE|PROT_READ, MAP_SHARED,
// so every byte the pipeline writes lands directly in the backing file with
// no separate flush step beyond Close's msync-on-unmap.
func Create(path string, size uint64, perm os.FileMode) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("writer: opening %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writer: truncating %s to %d bytes: %w", path, size, err)
	}

	var data []byte
	if size > 0 {
		data, err = syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
		if err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("writer: mmap %s: %w", path, err)
		}
	}
	return &Mapping{f: f, data: data}, nil
}

// Bytes returns the full mapped image for direct slicing by callers that
// need byte-range access (e.g. to hand a []byte window to relocapply.Apply).
func (m *Mapping) Bytes() []byte { return m.data }

// Close unmaps and closes the output file. Safe to call once; calling it
// twice is a programming error the caller must avoid, matching the
// scope-owned mapping pattern spec.md §9 calls for.
func (m *Mapping) Close() error {
	var err error
	if m.data != nil {
		err = syscall.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteSections copies every regular chunk's concatenated member bytes, and
// every synthetic chunk's generated bytes, into their assigned file offset
// within the mapping. Members backed by SHT_NOBITS (.bss) sections have no
// bytes and are skipped; their space was already reserved by layout.
func WriteSections(m *Mapping, sections []*chunk.OutputSection) error {
	for _, out := range sections {
		dst := m.data[out.Offset:]
		if out.Kind == chunk.KindSynthetic {
			copy(dst, out.Bytes())
			continue
		}
		for _, s := range out.Members {
			if s.Data == nil {
				continue // .bss-like: reserved, never backed by file bytes
			}
			if s.OutputOffset+s.Size > uint64(len(dst)) {
				return fmt.Errorf("writer: section %s overruns its output chunk %s", s, out.Name)
			}
			copy(dst[s.OutputOffset:], s.Data)
		}
	}
	return nil
}

// BuildIDSize is the number of bytes of hash this linker's default
// "sha1-style" build-id carries: a SHA-256 digest truncated to the 20-byte
// width of a SHA-1 build-id.
const BuildIDSize = 20

// ComputeBuildID hashes every byte of the image except the build-id note's
// own placeholder bytes (which must be excluded or the hash would include
// itself), matching spec.md §4.11's "content hash of the image covering
// everything except the build-id bytes themselves" requirement.
func ComputeBuildID(image []byte, buildIDOffset, buildIDLen uint64) []byte {
	h := sha256.New()
	h.Write(image[:buildIDOffset])
	h.Write(image[buildIDOffset+buildIDLen:])
	sum := h.Sum(nil)
	return sum[:BuildIDSize]
}

// WriteBuildID patches the computed build-id bytes into the note's payload
// location within the image.
func WriteBuildID(m *Mapping, buildIDOffset uint64, id []byte) {
	copy(m.data[buildIDOffset:], id)
}
