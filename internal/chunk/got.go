// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk

import (
	"github.com/uk0/mold/internal/arch"
	"github.com/uk0/mold/internal/objfile"
)

const pltEntrySize = 16

// DynBuilder scans a link's live relocations for symbols that need a GOT
// slot, a PLT stub, or a TLS offset, and owns the resulting .got/.plt
// chunks (spec.md §4.10's GOT/PLT/TLSDESC handling). Nothing upstream of
// chunk.Plan knows which symbols need a slot until the live relocations are
// scanned, so NewDynBuilder runs as its own pass between Plan and
// internal/layout.Assign: it reserves slots so layout can size the chunks,
// and FillGOTPLT runs after Assign to fill their contents once every
// symbol has a final address.
type DynBuilder struct {
	target *arch.Target

	got *OutputSection
	plt *OutputSection

	gotSlot map[*objfile.Symbol]uint64 // byte offset within .got
	pltSlot map[*objfile.Symbol]uint64 // byte offset within .plt
	tlsSyms map[*objfile.Symbol]bool

	gotOrder []*objfile.Symbol // insertion order, for deterministic fill
	pltOrder []*objfile.Symbol

	tdata, tbss *OutputSection
}

// NewDynBuilder scans every live, relocatable section for GOT/PLT/TLS
// requirements and reserves chunks sized to hold them. Call it after
// chunk.Plan and before internal/layout.Assign so the reserved sizes exist
// before addresses are handed out.
func NewDynBuilder(sections []*objfile.InputSection, target *arch.Target) *DynBuilder {
	b := &DynBuilder{
		target:  target,
		gotSlot: map[*objfile.Symbol]uint64{},
		pltSlot: map[*objfile.Symbol]uint64{},
		tlsSyms: map[*objfile.Symbol]bool{},
	}
	rs := arch.RelocSetFor(target)
	if rs == nil {
		return b
	}
	for _, s := range sections {
		if !s.Alive() || s.ICFRepresentative != nil || !s.CanHaveRelocs() {
			continue
		}
		for _, r := range s.Relocs {
			if r.Symbol == objfile.NoSymID {
				continue
			}
			info, ok := rs.Lookup(r.Type)
			if !ok || info.Action == arch.RelNone {
				continue
			}
			sym := s.File.Sym(r.Symbol)
			if sym == nil {
				continue
			}
			if info.NeedsGOT || info.Action == arch.RelGOT || info.Action == arch.RelTLSDesc {
				b.reserveGOT(sym)
			}
			if info.NeedsPLT || info.Action == arch.RelPLT {
				b.reservePLT(sym)
			}
			if info.Action == arch.RelTPOff || info.Action == arch.RelDTPOff {
				b.tlsSyms[sym] = true
			}
		}
	}
	return b
}

func (b *DynBuilder) reserveGOT(sym *objfile.Symbol) {
	if _, ok := b.gotSlot[sym]; ok {
		return
	}
	if b.got == nil {
		b.got = &OutputSection{Name: ".got", Kind: KindSynthetic, Flags: objfile.SHFAlloc | objfile.SHFWrite, Type: objfile.SHTProgbits, Align: uint64(b.target.Layout.WordSize())}
	}
	off := b.got.AppendSynthetic(make([]byte, b.target.Layout.WordSize()))
	b.gotSlot[sym] = off
	b.gotOrder = append(b.gotOrder, sym)
}

func (b *DynBuilder) reservePLT(sym *objfile.Symbol) {
	if _, ok := b.pltSlot[sym]; ok {
		return
	}
	// Every PLT entry jumps through a GOT.plt slot, so a PLT reservation
	// always implies a GOT reservation too.
	b.reserveGOT(sym)
	if b.plt == nil {
		b.plt = &OutputSection{Name: ".plt", Kind: KindSynthetic, Flags: objfile.SHFAlloc | objfile.SHFExecInstr, Type: objfile.SHTProgbits, Align: pltEntrySize}
	}
	off := b.plt.AppendSynthetic(make([]byte, pltEntrySize))
	b.pltSlot[sym] = off
	b.pltOrder = append(b.pltOrder, sym)
}

// SetTLSLayout records the output .tdata/.tbss sections so TPOffset and
// DTPOffset can compute variant-II static TLS offsets once layout has
// assigned them addresses. Either may be nil if the link has no TLS
// sections of that kind.
func (b *DynBuilder) SetTLSLayout(tdata, tbss *OutputSection) {
	b.tdata, b.tbss = tdata, tbss
}

// Sections returns the non-nil synthetic chunks this builder reserved, for
// the caller to append to the section list before internal/layout.Assign
// runs.
func (b *DynBuilder) Sections() []*OutputSection {
	var out []*OutputSection
	if b.got != nil {
		out = append(out, b.got)
	}
	if b.plt != nil {
		out = append(out, b.plt)
	}
	return out
}

// GOTAddr returns sym's GOT slot address, for internal/relocapply.SymbolValue.
func (b *DynBuilder) GOTAddr(sym *objfile.Symbol) (uint64, bool) {
	if b.got == nil {
		return 0, false
	}
	off, ok := b.gotSlot[sym]
	if !ok {
		return 0, false
	}
	return b.got.Addr + off, true
}

// PLTAddrFunc returns a PLTAddr callback for internal/relocapply.SymbolValue.
// Symbols that got a real (x86-64) stub resolve to it; every other symbol,
// including every symbol on other targets, falls back to resolve's direct
// address, which is equivalent to eliding the stub for a symbol that
// resolves locally (every symbol here does, since this linker has no
// runtime loader to defer binding to).
func (b *DynBuilder) PLTAddrFunc(resolve func(*objfile.Symbol) (uint64, bool)) func(*objfile.Symbol) (uint64, bool) {
	return func(sym *objfile.Symbol) (uint64, bool) {
		if b.plt != nil && b.target.GoArch == "amd64" {
			if off, ok := b.pltSlot[sym]; ok {
				return b.plt.Addr + off, true
			}
		}
		return resolve(sym)
	}
}

// TPOffset computes the thread-pointer-relative offset for sym under the
// variant-II static TLS model (TP points just past the end of the TLS
// block; ARM/MIPS variant-I layout, where TP precedes it, isn't handled).
func (b *DynBuilder) TPOffset(sym *objfile.Symbol) (uint64, bool) {
	if !b.tlsSyms[sym] || sym.Section == nil {
		return 0, false
	}
	end := b.tlsEnd()
	if end == 0 {
		return 0, false
	}
	symAddr := sym.Section.OutputAddr + sym.Value
	return uint64(int64(symAddr) - int64(end)), true
}

// DTPOffset computes sym's offset from the start of the TLS block, for the
// general/local-dynamic TLS models.
func (b *DynBuilder) DTPOffset(sym *objfile.Symbol) (uint64, bool) {
	if !b.tlsSyms[sym] || sym.Section == nil {
		return 0, false
	}
	base := b.tlsBase()
	if base == 0 {
		return 0, false
	}
	symAddr := sym.Section.OutputAddr + sym.Value
	return symAddr - base, true
}

func (b *DynBuilder) tlsBase() uint64 {
	if b.tdata != nil {
		return b.tdata.Addr
	}
	if b.tbss != nil {
		return b.tbss.Addr
	}
	return 0
}

func (b *DynBuilder) tlsEnd() uint64 {
	if b.tbss != nil {
		return b.tbss.Addr + b.tbss.Size
	}
	if b.tdata != nil {
		return b.tdata.Addr + b.tdata.Size
	}
	return 0
}

// FillGOTPLT writes every reserved GOT slot's resolved address and every
// PLT stub's bytes into image. Call it after internal/layout.Assign has
// given every chunk its final Addr/Offset.
func (b *DynBuilder) FillGOTPLT(image []byte, resolve func(*objfile.Symbol) (uint64, bool)) {
	for _, sym := range b.gotOrder {
		addr, ok := resolve(sym)
		if !ok {
			continue
		}
		off := b.got.Offset + b.gotSlot[sym]
		b.target.Layout.PutWord(image[off:], addr)
	}
	for _, sym := range b.pltOrder {
		gotAddr := b.got.Addr + b.gotSlot[sym]
		off := b.pltSlot[sym]
		stubAddr := b.plt.Addr + off
		writePLTStub(b.target, image[b.plt.Offset+off:b.plt.Offset+off+pltEntrySize], stubAddr, gotAddr)
	}
}

// writePLTStub fills one x86-64 PLT entry with an eager-bound indirect jump
// through its GOT slot (ff 25 <rip-relative disp32>, padded with nop). No
// other target gets a real stub; their PLTAddr aliases the symbol's direct
// address instead (see PLTAddrFunc).
func writePLTStub(target *arch.Target, stub []byte, stubAddr, gotAddr uint64) {
	for i := range stub {
		stub[i] = 0x90
	}
	if target.GoArch != "amd64" {
		return
	}
	stub[0], stub[1] = 0xff, 0x25
	disp := int32(int64(gotAddr) - int64(stubAddr+6))
	target.Layout.Order().PutUint32(stub[2:6], uint32(disp))
}
