// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package script implements the GNU linker script subset spec.md §6 names:
// INPUT, GROUP, AS_NEEDED, OUTPUT, SEARCH_DIR, SECTIONS, PHDRS, MEMORY,
// VERSION, ENTRY, ASSERT, PROVIDE, and the arithmetic expressions SECTIONS
// addresses are written in. The parser is a hand-rolled recursive-descent
// reader over a token stream, in the same "read the format byte by byte,
// fail loudly on anything unexpected" style as the object reader's ELF
// parsing, since linker scripts have no existing Go parser in the corpus to
// build on.
package script

import (
	"fmt"
	"strings"
)

// InputSpec is one file or library named by INPUT/GROUP, with the sticky
// AsNeeded state active when it was parsed.
type InputSpec struct {
	Name     string // bare path, or "-lfoo" library name
	AsNeeded bool
}

// A Group is a GROUP(...) or the implicit top-level list: archives within a
// group are re-scanned as a unit so mutually-recursive archives resolve
// (spec.md §4.3's --start-group/--end-group semantics, of which GROUP is
// the linker-script spelling).
type Group struct {
	Inputs []InputSpec
}

// SectionRule places one or more input section patterns into an output
// section at an optional explicit address, e.g.
//
//	.text 0x10000 : { *(.text .text.*) }
type SectionRule struct {
	Name        string
	Addr        Expr // nil if not explicitly placed
	InputGlobs  []string
}

// PhdrDecl is one PHDRS entry: a named segment and its ELF type keyword
// (PT_LOAD, PT_DYNAMIC, ...).
type PhdrDecl struct {
	Name string
	Type string
}

// MemoryRegion is one MEMORY { name (attrs) : ORIGIN = x, LENGTH = y } entry.
type MemoryRegion struct {
	Name   string
	Attrs  string
	Origin Expr
	Length Expr
}

// VersionNode is one version-script stanza: `VER_X1 { global: *; local: b*; };`
// spec.md's version-script scenario and the --dynamic-list supplemented
// feature both reduce to this shape (a dynamic-list is a single anonymous
// node with only a global list).
type VersionNode struct {
	Name    string // "" for an anonymous (--dynamic-list-style) node
	Global  []string
	Local   []string
}

// Script is the fully parsed result of one linker script.
type Script struct {
	Groups    []Group
	Output    string
	SearchDir []string
	Entry     string
	Assigns   map[string]Expr // top-level `sym = expr;` and PROVIDE(sym = expr);
	Provides  map[string]bool // subset of Assigns keys that were PROVIDE()'d: weak, only applies if sym is otherwise undefined
	Sections  []SectionRule
	Phdrs     []PhdrDecl
	Memory    []MemoryRegion
	Versions  []VersionNode
	Asserts   []Assertion
}

// Assertion is one ASSERT(expr, message) directive, checked after layout
// once every symbol referenced in expr has a final value.
type Assertion struct {
	Cond    Expr
	Message string
}

// Parse tokenizes and parses src, a linker script's full text.
func Parse(src string) (*Script, error) {
	p := &parser{toks: tokenize(src)}
	s := &Script{Assigns: map[string]Expr{}, Provides: map[string]bool{}}

	for !p.atEnd() {
		tok := p.peek()
		switch tok.text {
		case "INPUT", "GROUP":
			p.next()
			g, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			s.Groups = append(s.Groups, g)
		case "OUTPUT":
			p.next()
			name, err := p.parseParenString()
			if err != nil {
				return nil, err
			}
			s.Output = name
		case "SEARCH_DIR":
			p.next()
			dir, err := p.parseParenString()
			if err != nil {
				return nil, err
			}
			s.SearchDir = append(s.SearchDir, dir)
		case "ENTRY":
			p.next()
			name, err := p.parseParenString()
			if err != nil {
				return nil, err
			}
			s.Entry = name
		case "PROVIDE", "PROVIDE_HIDDEN":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			name, expr, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			if err := p.expect(";"); err != nil {
				return nil, err
			}
			s.Assigns[name] = expr
			s.Provides[name] = true
		case "ASSERT":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			cond, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
			msg, err := p.parseString()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			if err := p.expect(";"); err != nil {
				return nil, err
			}
			s.Asserts = append(s.Asserts, Assertion{cond, msg})
		case "SECTIONS":
			p.next()
			rules, err := p.parseSections()
			if err != nil {
				return nil, err
			}
			s.Sections = rules
		case "PHDRS":
			p.next()
			phdrs, err := p.parsePhdrs()
			if err != nil {
				return nil, err
			}
			s.Phdrs = phdrs
		case "MEMORY":
			p.next()
			regions, err := p.parseMemory()
			if err != nil {
				return nil, err
			}
			s.Memory = regions
		case "VERSION":
			p.next()
			nodes, err := p.parseVersion()
			if err != nil {
				return nil, err
			}
			if p.peek().text == ";" {
				p.next()
			}
			s.Versions = nodes
		default:
			if isIdent(tok.text) && p.peekAt(1).text == "=" {
				name, expr, err := p.parseAssignment()
				if err != nil {
					return nil, err
				}
				if err := p.expect(";"); err != nil {
					return nil, err
				}
				s.Assigns[name] = expr
				continue
			}
			return nil, fmt.Errorf("script: unexpected token %q", tok.text)
		}
	}
	return s, nil
}

func (p *parser) parseGroup() (Group, error) {
	var g Group
	if err := p.expect("("); err != nil {
		return g, err
	}
	asNeeded := false
	for {
		tok := p.peek()
		if tok.text == ")" {
			p.next()
			return g, nil
		}
		if tok.text == "AS_NEEDED" {
			p.next()
			if err := p.expect("("); err != nil {
				return g, err
			}
			asNeeded = true
			continue
		}
		if tok.text == ")" && asNeeded {
			asNeeded = false
			p.next()
			continue
		}
		if tok.kind == tokString || isIdent(tok.text) {
			p.next()
			g.Inputs = append(g.Inputs, InputSpec{Name: tok.text, AsNeeded: asNeeded})
			if asNeeded && p.peek().text == ")" {
				p.next()
				asNeeded = false
			}
			continue
		}
		return g, fmt.Errorf("script: unexpected token %q in input list", tok.text)
	}
}

func (p *parser) parseParenString() (string, error) {
	if err := p.expect("("); err != nil {
		return "", err
	}
	tok := p.next()
	if err := p.expect(")"); err != nil {
		return "", err
	}
	return tok.text, nil
}

func (p *parser) parseString() (string, error) {
	tok := p.next()
	return tok.text, nil
}

// parseAssignment parses `name = expr` without a trailing terminator,
// shared by top-level assignments and PROVIDE(...).
func (p *parser) parseAssignment() (string, Expr, error) {
	name := p.next().text
	if err := p.expect("="); err != nil {
		return "", nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return "", nil, err
	}
	return name, expr, nil
}

func (p *parser) parseSections() ([]SectionRule, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var rules []SectionRule
	for p.peek().text != "}" {
		name := p.next().text
		var addr Expr
		if p.peek().text != ":" {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			addr = e
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		if err := p.expect("{"); err != nil {
			return nil, err
		}
		var globs []string
		for p.peek().text != "}" {
			// Accept `*(.text .text.*)` and bare `KEEP(*(.foo))`
			// patterns; we only need the glob list, not KEEP's
			// semantics (every live section is already kept by
			// GC roots before planning runs this rule).
			tok := p.next()
			if tok.text == "KEEP" {
				if err := p.expect("("); err != nil {
					return nil, err
				}
				continue
			}
			if tok.text == "(" || tok.text == ")" || tok.text == "*" {
				continue
			}
			globs = append(globs, tok.text)
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		if p.peek().text == ";" {
			p.next()
		}
		rules = append(rules, SectionRule{Name: name, Addr: addr, InputGlobs: globs})
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	if p.peek().text == ";" {
		p.next()
	}
	return rules, nil
}

func (p *parser) parsePhdrs() ([]PhdrDecl, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var out []PhdrDecl
	for p.peek().text != "}" {
		name := p.next().text
		typ := p.next().text
		for p.peek().text != ";" {
			p.next()
		}
		p.next() // consume ';'
		out = append(out, PhdrDecl{Name: name, Type: typ})
	}
	return out, p.expect("}")
}

func (p *parser) parseMemory() ([]MemoryRegion, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var out []MemoryRegion
	for p.peek().text != "}" {
		name := p.next().text
		var attrs string
		if p.peek().text == "(" {
			p.next()
			for p.peek().text != ")" {
				attrs += p.next().text
			}
			p.next()
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		var origin, length Expr
		for p.peek().text != ";" && !p.atEnd() {
			tok := p.next()
			switch tok.text {
			case "ORIGIN", "org", "o":
				if err := p.expect("="); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				origin = e
			case "LENGTH", "len", "l":
				if err := p.expect("="); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				length = e
			case ",":
			}
		}
		p.next() // consume ';'
		out = append(out, MemoryRegion{Name: name, Attrs: attrs, Origin: origin, Length: length})
	}
	return out, p.expect("}")
}

func (p *parser) parseVersion() ([]VersionNode, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var out []VersionNode
	for p.peek().text != "}" {
		var node VersionNode
		if isIdent(p.peek().text) && p.peekAt(1).text == "{" {
			node.Name = p.next().text
		}
		if err := p.expect("{"); err != nil {
			return nil, err
		}
		section := ""
		for p.peek().text != "}" {
			tok := p.next()
			if tok.text == "global" || tok.text == "local" {
				section = tok.text
				if p.peek().text == ":" {
					p.next()
				}
				continue
			}
			if tok.text == ":" || tok.text == ";" {
				continue
			}
			// The lexer splits a glob such as "b*" into "b" and "*";
			// rejoin everything up to the pattern's ';'.
			pattern := tok.text
			for p.peek().text != ";" && p.peek().text != "}" && !p.atEnd() {
				pattern += p.next().text
			}
			switch section {
			case "local":
				node.Local = append(node.Local, pattern)
			default:
				node.Global = append(node.Global, pattern)
			}
		}
		p.next() // consume '}'
		if p.peek().text == ";" {
			p.next()
		}
		out = append(out, node)
	}
	return out, p.expect("}")
}

// Glob reports whether an input section name matches one of a
// SectionRule's patterns, supporting the single "*" wildcard GNU ld
// SECTIONS blocks use (e.g. ".text.*").
func Glob(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix)
}

// ParseDefsym evaluates the trivial `sym=expr` form accepted by --defsym:
// a bare symbol reference, an integer, or a `sym1+N`/`sym1-N` combination.
func ParseDefsym(spec string) (name string, expr Expr, err error) {
	name, rhs, ok := strings.Cut(spec, "=")
	if !ok {
		return "", nil, fmt.Errorf("script: malformed --defsym %q, want sym=expr", spec)
	}
	p := &parser{toks: tokenize(rhs)}
	e, err := p.parseExpr()
	if err != nil {
		return "", nil, fmt.Errorf("script: --defsym %q: %w", spec, err)
	}
	return name, e, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
