// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mergestr implements merge-string and merge-constant
// deduplication (spec.md §4.7): every Fragment across every SHF_MERGE
// input section is interned into one global table keyed by content, so
// that, e.g., the same string literal compiled into a dozen translation
// units takes up space in the output exactly once.
package mergestr

import (
	"sync"

	"github.com/uk0/mold/internal/objfile"
)

// shardCount is the number of independent lock-sharded buckets the table
// is split into, so concurrent interning from many input files doesn't
// serialize on a single mutex.
const shardCount = 32

// entry is one interned fragment's final home in the merged output.
type entry struct {
	bytes  string
	offset uint64
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Table is the global interning table for one output merge section (e.g.
// one Table per distinct (entsize, flags) class of SHF_MERGE section, so
// string fragments never collide with fixed-width constant fragments).
type Table struct {
	shards [shardCount]shard
	// size is the running total size of the merged output, in bytes.
	// Protected by sizeMu since multiple shards can grow it concurrently.
	sizeMu sync.Mutex
	size   uint64
}

// NewTable returns an empty interning table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].entries = map[string]*entry{}
	}
	return t
}

func (t *Table) shardFor(key string) *shard {
	return &t.shards[fnv32(key)%shardCount]
}

func fnv32(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// Intern records b as a candidate fragment and returns the offset it will
// occupy in the merged output. Calling Intern twice with equal bytes
// always returns the same offset; the first caller to see a given byte
// string pays for its space, later callers get it for free.
func (t *Table) Intern(b []byte) uint64 {
	key := string(b)
	sh := t.shardFor(key)

	sh.mu.Lock()
	if e, ok := sh.entries[key]; ok {
		sh.mu.Unlock()
		return e.offset
	}
	sh.mu.Unlock()

	// Not present under a read; acquire the global size counter and
	// recheck, since another goroutine may have interned the same key
	// between the unlock above and here.
	t.sizeMu.Lock()
	defer t.sizeMu.Unlock()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		return e.offset
	}
	offset := t.size
	t.size += uint64(len(b))
	sh.entries[key] = &entry{bytes: key, offset: offset}
	return offset
}

// Size returns the total byte size of the merged output so far.
func (t *Table) Size() uint64 {
	t.sizeMu.Lock()
	defer t.sizeMu.Unlock()
	return t.size
}

// Bytes renders every interned fragment, in assigned-offset order, as the
// final merged section contents.
func (t *Table) Bytes() []byte {
	type ordered struct {
		offset uint64
		bytes  string
	}
	var all []ordered
	for i := range t.shards {
		t.shards[i].mu.Lock()
		for _, e := range t.shards[i].entries {
			all = append(all, ordered{e.offset, e.bytes})
		}
		t.shards[i].mu.Unlock()
	}
	out := make([]byte, t.Size())
	for _, o := range all {
		copy(out[o.offset:], o.bytes)
	}
	return out
}

// MergeSection interns every fragment of an SHF_MERGE input section into
// t (spec.md §4.7). It returns, for each fragment, the offset it now
// occupies in t; relocations that point into s are left unchanged.
func MergeSection(t *Table, s *objfile.InputSection) []uint64 {
	if s.Merge == nil {
		return nil
	}
	offsets := make([]uint64, len(s.Merge.Fragments))
	for i, frag := range s.Merge.Fragments {
		offsets[i] = t.Intern(frag.Bytes)
	}
	return offsets
}

// OffsetFor finds which fragment an address within s falls into, and
// returns that fragment's interned offset. It's used when redirecting a
// relocation that targets a byte offset inside an SHF_MERGE section to the
// fragment's final location in the merged output.
func OffsetFor(s *objfile.InputSection, addrInSection uint64, offsets []uint64) (mergedOffset uint64, ok bool) {
	if s.Merge == nil {
		return 0, false
	}
	for i, frag := range s.Merge.Fragments {
		end := frag.Offset + uint64(len(frag.Bytes))
		if frag.Offset <= addrInSection && addrInSection < end {
			return offsets[i] + (addrInSection - frag.Offset), true
		}
	}
	return 0, false
}
