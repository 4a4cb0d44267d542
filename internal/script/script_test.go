// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import "testing"

type fakeResolver struct {
	syms  map[string]uint64
	dot   uint64
}

func (f fakeResolver) Symbol(name string) (uint64, bool)      { v, ok := f.syms[name]; return v, ok }
func (f fakeResolver) SectionAddr(string) (uint64, bool)      { return 0, false }
func (f fakeResolver) SectionSize(string) (uint64, bool)      { return 0, false }
func (f fakeResolver) Dot() uint64                            { return f.dot }

func evalStr(t *testing.T, src string, r Resolver) uint64 {
	t.Helper()
	p := &parser{toks: tokenize(src)}
	e, err := p.parseExpr()
	if err != nil {
		t.Fatalf("parseExpr(%q): %v", src, err)
	}
	v, err := e.Eval(r)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	return v
}

func TestExprArithmeticPrecedence(t *testing.T) {
	r := fakeResolver{}
	if got := evalStr(t, "1 + 2 * 3", r); got != 7 {
		t.Errorf("1 + 2 * 3 = %d, want 7", got)
	}
	if got := evalStr(t, "(1 + 2) * 3", r); got != 9 {
		t.Errorf("(1 + 2) * 3 = %d, want 9", got)
	}
	if got := evalStr(t, "0x10000000 + 4K", r); got != 0x10000000+4096 {
		t.Errorf("hex+K literal mismatch: got %#x", got)
	}
}

func TestExprSymbolAndAlign(t *testing.T) {
	r := fakeResolver{syms: map[string]uint64{"base": 0x1000}, dot: 0x1234}
	if got := evalStr(t, "base + 8", r); got != 0x1008 {
		t.Errorf("base + 8 = %#x, want 0x1008", got)
	}
	if got := evalStr(t, "ALIGN(0x10)", r); got != 0x1240 {
		t.Errorf("ALIGN(.) = %#x, want 0x1240", got)
	}
}

func TestParseInputAndOutput(t *testing.T) {
	src := `
		OUTPUT(a.out)
		SEARCH_DIR("/usr/lib")
		GROUP(libc.a libgcc.a AS_NEEDED(libm.so))
		ENTRY(_start)
	`
	s, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Output != "a.out" {
		t.Errorf("Output = %q, want a.out", s.Output)
	}
	if s.Entry != "_start" {
		t.Errorf("Entry = %q, want _start", s.Entry)
	}
	if len(s.Groups) != 1 || len(s.Groups[0].Inputs) != 3 {
		t.Fatalf("Groups = %+v, want one group of 3 inputs", s.Groups)
	}
	if !s.Groups[0].Inputs[2].AsNeeded {
		t.Errorf("third input should be AS_NEEDED")
	}
}

func TestParseVersionScript(t *testing.T) {
	src := `VERSION { VER_X1 { global: foo; local: b*; }; };`
	s, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Versions) != 1 || s.Versions[0].Name != "VER_X1" {
		t.Fatalf("Versions = %+v", s.Versions)
	}
	if len(s.Versions[0].Global) != 1 || s.Versions[0].Global[0] != "foo" {
		t.Errorf("Global = %v, want [foo]", s.Versions[0].Global)
	}
	if len(s.Versions[0].Local) != 1 || s.Versions[0].Local[0] != "b*" {
		t.Errorf("Local = %v, want [b*]", s.Versions[0].Local)
	}
}

func TestParseSectionsAndProvide(t *testing.T) {
	src := `
		PROVIDE(__bss_start = .);
		SECTIONS {
			.text 0x10000 : { *(.text .text.*) }
			.bss : { *(.bss) }
		}
	`
	s, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !s.Provides["__bss_start"] {
		t.Errorf("expected __bss_start to be a PROVIDE()'d symbol")
	}
	if len(s.Sections) != 2 {
		t.Fatalf("got %d section rules, want 2", len(s.Sections))
	}
	if s.Sections[0].Name != ".text" || s.Sections[0].Addr == nil {
		t.Errorf(".text rule = %+v, want an explicit address", s.Sections[0])
	}
	if len(s.Sections[0].InputGlobs) != 2 {
		t.Errorf("InputGlobs = %v, want 2 patterns", s.Sections[0].InputGlobs)
	}
}

func TestGlobWildcard(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{".text", ".text", true},
		{".text", ".text.foo", false},
		{".text.*", ".text.foo", true},
		{".text.*", ".data.foo", false},
	}
	for _, c := range cases {
		if got := Glob(c.pattern, c.name); got != c.want {
			t.Errorf("Glob(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestParseDefsym(t *testing.T) {
	name, expr, err := ParseDefsym("foo=bar+4")
	if err != nil {
		t.Fatalf("ParseDefsym: %v", err)
	}
	if name != "foo" {
		t.Errorf("name = %q, want foo", name)
	}
	r := fakeResolver{syms: map[string]uint64{"bar": 0x100}}
	v, err := expr.Eval(r)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != 0x104 {
		t.Errorf("foo = %#x, want 0x104", v)
	}
}
