// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch describes the machine targets this linker understands and
// provides the per-target function tables (relocation semantics, thunk
// ranges) that the rest of the pipeline is parameterized over.
//
// The pipeline itself (reader, resolver, GC, ICF, merge, chunk planner,
// layout engine, writer) is target-agnostic and works uniformly across every
// Target in Targets. Only the RelocSet a Target carries determines whether
// internal/relocapply can actually patch bytes for it; see Target.Relocs.
package arch

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// An Arch describes a CPU architecture's data layout, independent of any
// particular object file format.
type Arch struct {
	// Layout is the byte order and word size of this architecture.
	Layout Layout

	// GoArch is a short, lowercase, human-readable name for this
	// architecture, in the style of Go's GOARCH (but not required to
	// match it for architectures Go doesn't support).
	GoArch string

	// MinFrameSize is the number of bytes at the bottom of every stack
	// frame except for empty leaf frames.
	MinFrameSize int
}

func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}

// ThunkRange describes how far a direct branch on a target can reach.
type ThunkRange struct {
	// MaxForward and MaxBackward are the largest positive and negative
	// byte displacements a direct branch on this target can encode. A
	// branch whose computed displacement falls outside
	// [-MaxBackward, MaxForward] must be redirected through a Thunk
	// (spec.md §4.9).
	MaxForward, MaxBackward int64
	// HasLimitedRange is false for targets whose direct branches can
	// reach the entire address space (e.g. x86-64's RIP-relative CALL),
	// in which case thunks are never synthesized.
	HasLimitedRange bool
}

// A Target is one of the machine variants this linker can produce output
// for. Exactly one Target governs a given link (spec.md §4.2): every input
// object's e_machine must resolve to the same Target, or the link is fatal.
type Target struct {
	*Arch

	// Name is the linker-facing target name, e.g. "elf64-x86-64".
	Name string

	// Machine is the ELF e_machine value identifying this target.
	Machine elf.Machine

	// Class is the ELF file class (32- or 64-bit) this target uses.
	Class elf.Class

	// Thunks describes this target's branch-range limits.
	Thunks ThunkRange

	// relocs is looked up lazily via RelocSetFor so targets can be
	// registered before their relocation table is written.
	relocs *RelocSet
}

func mkLayout(order binary.ByteOrder, wordSize int) Layout {
	return NewLayout(order, wordSize)
}

var (
	X86_64 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 8), GoArch: "amd64"},
		Name:    "elf64-x86-64",
		Machine: elf.EM_X86_64,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{HasLimitedRange: false},
	}
	I386 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 4), GoArch: "386"},
		Name:    "elf32-i386",
		Machine: elf.EM_386,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{HasLimitedRange: false},
	}
	ARM64LE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 8), GoArch: "arm64"},
		Name:    "elf64-littleaarch64",
		Machine: elf.EM_AARCH64,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{MaxForward: 128 << 20, MaxBackward: 128 << 20, HasLimitedRange: true},
	}
	ARM64BE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 8), GoArch: "arm64_be"},
		Name:    "elf64-bigaarch64",
		Machine: elf.EM_AARCH64,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{MaxForward: 128 << 20, MaxBackward: 128 << 20, HasLimitedRange: true},
	}
	ARM32LE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 4), GoArch: "arm"},
		Name:    "elf32-littlearm",
		Machine: elf.EM_ARM,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 32 << 20, MaxBackward: 32 << 20, HasLimitedRange: true},
	}
	ARM32BE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 4), GoArch: "armeb"},
		Name:    "elf32-bigarm",
		Machine: elf.EM_ARM,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 32 << 20, MaxBackward: 32 << 20, HasLimitedRange: true},
	}
	RISCV32LE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 4), GoArch: "riscv32"},
		Name:    "elf32-littleriscv",
		Machine: elf.EM_RISCV,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 1 << 20, MaxBackward: 1 << 20, HasLimitedRange: true},
	}
	RISCV64LE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 8), GoArch: "riscv64"},
		Name:    "elf64-littleriscv",
		Machine: elf.EM_RISCV,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{MaxForward: 1 << 20, MaxBackward: 1 << 20, HasLimitedRange: true},
	}
	PPC32 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 4), GoArch: "ppc"},
		Name:    "elf32-powerpc",
		Machine: elf.EM_PPC,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 32 << 20, MaxBackward: 32 << 20, HasLimitedRange: true},
	}
	PPC64V1 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 8), GoArch: "ppc64"},
		Name:    "elf64-powerpc",
		Machine: elf.EM_PPC64,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{MaxForward: 32 << 20, MaxBackward: 32 << 20, HasLimitedRange: true},
	}
	PPC64V2 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 8), GoArch: "ppc64le"},
		Name:    "elf64-powerpcle",
		Machine: elf.EM_PPC64,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{MaxForward: 32 << 20, MaxBackward: 32 << 20, HasLimitedRange: true},
	}
	S390X = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 8), GoArch: "s390x"},
		Name:    "elf64-s390",
		Machine: elf.EM_S390,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{HasLimitedRange: false},
	}
	SPARC64 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 8), GoArch: "sparc64"},
		Name:    "elf64-sparc",
		Machine: elf.EM_SPARCV9,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{HasLimitedRange: false},
	}
	M68K = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 4), GoArch: "m68k"},
		Name:    "elf32-m68k",
		Machine: elf.EM_68K,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{HasLimitedRange: false},
	}
	SH4LE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 4), GoArch: "sh"},
		Name:    "elf32-sh-linux",
		Machine: elf.EM_SH,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 4 << 10, MaxBackward: 4 << 10, HasLimitedRange: true},
	}
	SH4BE = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.BigEndian, 4), GoArch: "sheb"},
		Name:    "elf32-shbig-linux",
		Machine: elf.EM_SH,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 4 << 10, MaxBackward: 4 << 10, HasLimitedRange: true},
	}
	LoongArch32 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 4), GoArch: "loong32"},
		Name:    "elf32-loongarch",
		Machine: elf.EM_LOONGARCH,
		Class:   elf.ELFCLASS32,
		Thunks:  ThunkRange{MaxForward: 128 << 20, MaxBackward: 128 << 20, HasLimitedRange: true},
	}
	LoongArch64 = &Target{
		Arch:    &Arch{Layout: mkLayout(binary.LittleEndian, 8), GoArch: "loong64"},
		Name:    "elf64-loongarch",
		Machine: elf.EM_LOONGARCH,
		Class:   elf.ELFCLASS64,
		Thunks:  ThunkRange{MaxForward: 128 << 20, MaxBackward: 128 << 20, HasLimitedRange: true},
	}
)

// Targets lists every target this linker recognizes, in registration order.
// The object reader (internal/objfile) uses this to turn an ELF
// (e_machine, e_ident[EI_DATA]) pair into a Target; internal/relocapply uses
// it to look up a RelocSet.
var Targets = []*Target{
	X86_64, I386,
	ARM64LE, ARM64BE, ARM32LE, ARM32BE,
	RISCV32LE, RISCV64LE,
	PPC32, PPC64V1, PPC64V2,
	S390X, SPARC64, M68K,
	SH4LE, SH4BE,
	LoongArch32, LoongArch64,
}

// ByMachine finds the Target matching an ELF (machine, class, byte order)
// triple. Some ELF machines (ARM, AArch64, RISC-V, PowerPC, SH, LoongArch)
// have multiple Targets distinguished only by class/endianness, which is why
// all three fields are needed; every Target, including the single-form ones
// (x86-64, i386, s390x, sparc64), must match on all three.
func ByMachine(m elf.Machine, class elf.Class, order binary.ByteOrder) (*Target, bool) {
	for _, t := range Targets {
		if t.Machine != m {
			continue
		}
		if t.Class != class {
			continue
		}
		if t.Layout.Order() != order {
			continue
		}
		return t, true
	}
	return nil, false
}

// RelocSetFor returns the relocation function table for t, or nil if t is
// recognized by the reader but has no relocation semantics wired up yet.
// Callers must treat a nil result as the spec.md §4.2 "unsupported
// relocations are fatal at the relocation-application stage" case, not a
// reader-time error.
func RelocSetFor(t *Target) *RelocSet {
	return t.relocs
}

func register(t *Target, rs *RelocSet) {
	t.relocs = rs
}

func init() {
	if len(Targets) < 18 {
		panic(fmt.Sprintf("target registry incomplete: got %d targets", len(Targets)))
	}
}
