// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"testing"

	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/chunk"
	"github.com/uk0/mold/internal/objfile"
)

func outSec(name string, size, align uint64, flags objfile.SectionFlags, members ...*objfile.InputSection) *chunk.OutputSection {
	out := &chunk.OutputSection{Name: name, Size: size, Align: align, Flags: flags, Members: members}
	for _, m := range members {
		m.Output = out
	}
	return out
}

func TestAssignAddrsPacksSequentially(t *testing.T) {
	text := outSec(".text", 0x30, 0x10, objfile.SHFAlloc|objfile.SHFExecInstr)
	data := outSec(".data", 0x8, 0x8, objfile.SHFAlloc|objfile.SHFWrite)

	res := Assign([]*chunk.OutputSection{text, data}, arch.X86_64, 0x400000)

	if text.Addr != 0x400000 {
		t.Errorf("text.Addr = %#x, want 0x400000", text.Addr)
	}
	if data.Addr != 0x400030 {
		t.Errorf("data.Addr = %#x, want 0x400030", data.Addr)
	}
	if res.Thunks != nil {
		t.Errorf("x86-64 has unlimited branch range; expected no thunks")
	}
}

func TestAssignSkipsAddrForNonAlloc(t *testing.T) {
	debug := outSec(".debug_info", 0x20, 0x1, 0)
	text := outSec(".text", 0x10, 0x10, objfile.SHFAlloc|objfile.SHFExecInstr)

	Assign([]*chunk.OutputSection{debug, text}, arch.X86_64, 0x1000)

	if debug.Addr != 0 {
		t.Errorf("non-alloc section got a virtual address: %#x", debug.Addr)
	}
	if text.Offset != debug.Offset+debug.Size {
		t.Errorf("text.Offset = %#x, want to follow debug section in the file", text.Offset)
	}
}

func TestFixpointThunksInsertsForOutOfRangeBranch(t *testing.T) {
	caller := &objfile.InputSection{Name: ".text.caller", Size: 4, Align: 4, Flags: objfile.SHFAlloc | objfile.SHFExecInstr}
	callee := &objfile.InputSection{Name: ".text.callee", Size: 4, Align: 4, Flags: objfile.SHFAlloc | objfile.SHFExecInstr}
	caller.SetAlive()
	callee.SetAlive()

	f := &objfile.InputFile{Target: arch.ARM32LE}
	sym := &objfile.Symbol{Name: "callee", Section: callee, Kind: objfile.SymDefined}
	f.Symbols = []*objfile.Symbol{sym}
	caller.File = f
	caller.Relocs = []objfile.Reloc{{Addr: 0, Symbol: 0}}

	callerOut := outSec(".text", caller.Size, caller.Align, caller.Flags, caller)
	calleeOut := outSec(".text2", callee.Size, callee.Align, callee.Flags, callee)

	// Force an out-of-range displacement by placing callee far away.
	pad := outSec(".pad", uint64(arch.ARM32LE.Thunks.MaxForward)+0x1000, 4, objfile.SHFAlloc)

	res := Assign([]*chunk.OutputSection{callerOut, pad, calleeOut}, arch.ARM32LE, 0)
	if len(res.Thunks) == 0 {
		t.Fatalf("expected a thunk for an out-of-range ARM branch")
	}
}
