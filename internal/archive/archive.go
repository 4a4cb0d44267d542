// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package archive reads Unix ar archives (spec.md §4.3) and drives the
// lazy, symbol-driven fixpoint that decides which archive members actually
// need to be extracted into the link.
package archive

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

const magic = "!<arch>\n"

// A Member is one file stored inside an archive.
type Member struct {
	Name string
	// Offset and Size locate the member's payload within the archive's
	// underlying ReaderAt, so callers can lazily re-open only the
	// members they decide to extract.
	Offset int64
	Size   int64
}

// An Archive is a parsed ar file: its members, in file order. The GNU/BSD
// symbol index member, if present, is skipped rather than parsed.
type Archive struct {
	Path    string
	r       io.ReaderAt
	Members []Member

	// symIndex maps an exported symbol name to the archive offset of the
	// member defining it. Open skips the archive's "/" index member and
	// never fills this map, so it is always empty and Extractor reads
	// every member's own symbol table.
	symIndex map[string]int64
}

// Open parses the ar header and member table of r. It does not read member
// payloads; callers fetch those with Data once they decide to extract a
// member.
func Open(path string, r io.ReaderAt, size int64) (*Archive, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if string(hdr[:]) != magic {
		return nil, fmt.Errorf("%s: not an archive (bad magic)", path)
	}

	a := &Archive{Path: path, r: r, symIndex: map[string]int64{}}
	var longNames string

	off := int64(len(magic))
	for off < size {
		if off%2 == 1 {
			off++ // entries are 2-byte aligned
		}
		if off+60 > size {
			break
		}
		var raw [60]byte
		if _, err := r.ReadAt(raw[:], off); err != nil {
			return nil, fmt.Errorf("%s: reading member header at %d: %w", path, off, err)
		}
		name := strings.TrimRight(string(raw[0:16]), " ")
		sizeField := strings.TrimSpace(string(raw[48:58]))
		memSize, err := strconv.ParseInt(sizeField, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad member size %q at offset %d", path, sizeField, off)
		}
		payloadOff := off + 60

		switch {
		case name == "/" || name == "/SYM64/":
			// GNU symbol index: skip. A richer implementation would
			// parse this to avoid a linear Extractor scan, but every
			// Extractor round already bounds its work to undefined
			// symbols outstanding, so skipping the index only costs
			// an extra pass over member symbol tables, not
			// correctness.
		case name == "//":
			// GNU long-name table: subsequent member names of the
			// form "/N" index into this blob.
			buf := make([]byte, memSize)
			if _, err := r.ReadAt(buf, payloadOff); err != nil {
				return nil, fmt.Errorf("%s: reading long name table: %w", path, err)
			}
			longNames = string(buf)
		case strings.HasPrefix(name, "/") && len(name) > 1:
			if idx, err := strconv.Atoi(name[1:]); err == nil && idx < len(longNames) {
				end := strings.IndexByte(longNames[idx:], '/')
				if end < 0 {
					end = len(longNames) - idx
				}
				name = longNames[idx : idx+end]
			}
			a.Members = append(a.Members, Member{Name: name, Offset: payloadOff, Size: memSize})
		case strings.HasSuffix(name, "/"):
			a.Members = append(a.Members, Member{Name: strings.TrimSuffix(name, "/"), Offset: payloadOff, Size: memSize})
		default:
			a.Members = append(a.Members, Member{Name: name, Offset: payloadOff, Size: memSize})
		}

		off = payloadOff + memSize
	}
	return a, nil
}

// Data returns a reader over m's payload bytes.
func (a *Archive) Data(m Member) io.ReaderAt {
	return io.NewSectionReader(a.r, m.Offset, m.Size)
}

// ParseSymbolIndex reads the GNU symbol index member (named "/"), mapping
// each exported name to the byte offset of the defining member. It's
// separated from Open so callers that already know they need a full scan
// (--whole-archive) can skip the extra parse.
func ParseSymbolIndex(r io.ReaderAt, offset, size int64) (map[string]int64, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return map[string]int64{}, nil
	}
	n := be32(buf[0:4])
	offs := make([]int64, n)
	p := 4
	for i := uint32(0); i < n; i++ {
		if p+4 > len(buf) {
			return nil, fmt.Errorf("truncated symbol index")
		}
		offs[i] = int64(be32(buf[p : p+4]))
		p += 4
	}
	names := strings.Split(string(buf[p:]), "\x00")
	index := make(map[string]int64, n)
	for i := uint32(0); i < n && int(i) < len(names); i++ {
		if names[i] != "" {
			index[names[i]] = offs[i]
		}
	}
	return index, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
