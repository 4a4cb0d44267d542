// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config layers the linker's command-line flags, @response-file
// arguments, and environment variables into one Config struct (spec.md
// §6), using viper the way the rest of the corpus's CLI tools do: flags
// bind into viper, viper resolves precedence, and the final values are
// copied into a plain struct the rest of the pipeline consumes without
// importing viper itself.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ICFMode selects how aggressively identical code folding runs.
type ICFMode string

const (
	ICFNone ICFMode = "none"
	ICFSafe ICFMode = "safe"
	ICFAll  ICFMode = "all"
)

// CompressMode selects debug-section output compression (spec.md §6).
type CompressMode string

const (
	CompressNone CompressMode = "none"
	CompressZlib CompressMode = "zlib"
	CompressZstd CompressMode = "zstd"
)

// Config is the fully resolved set of options driving one link, after
// response files, environment variables, and flags have been merged.
type Config struct {
	Output      string
	Inputs      []string
	SearchPaths []string
	Scripts     []string

	Entry        string
	Shared       bool
	Static       bool
	PIE          bool
	GCSections   bool
	ICF          ICFMode
	BuildID      string
	Compress     CompressMode
	VersionScript string
	DynamicList  []string
	Wraps        []string
	Defsyms      map[string]string
	Relocatable  bool
	EhFrameHdr   bool

	PrintMap     string
	PrintDeps    bool
	DiagJSON     string

	LibrarySearchEnv []string // from LD_LIBRARY_PATH
	Sysroot          string   // from SYSROOT
}

// New returns a Config populated from args (already response-file-expanded
// by ExpandResponseFiles) and the process environment. Flags bind through
// viper so the same precedence rules (flag > env > default) apply
// uniformly across every option, per spec.md §6.
func New(args []string) (*Config, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("mold", pflag.ContinueOnError)

	fs.StringP("output", "o", "a.out", "output file path")
	fs.StringSliceP("library-path", "L", nil, "add dir to the library search path")
	fs.String("entry", "", "entry symbol")
	fs.Bool("shared", false, "build a shared object")
	fs.Bool("static", false, "link statically")
	fs.Bool("pie", false, "build a position-independent executable")
	fs.Bool("no-pie", false, "disable PIE")
	fs.Bool("gc-sections", false, "remove unreferenced sections")
	fs.String("icf", "none", "identical code folding mode: none, safe, all")
	fs.String("build-id", "", "build-id style: none, fast, sha1, md5, uuid")
	fs.String("compress-debug-sections", "none", "compress debug sections: none, zlib, zstd")
	fs.String("version-script", "", "path to a version script")
	fs.StringSlice("dynamic-list", nil, "symbols exported from a dynamic-list file")
	fs.StringSlice("wrap", nil, "wrap references to sym via __wrap_sym")
	fs.StringSlice("defsym", nil, "sym=expr symbol definitions")
	fs.BoolP("relocatable", "r", false, "emit relocatable (ET_REL) output")
	fs.Bool("eh-frame-hdr", false, "generate a .eh_frame_hdr section")
	fs.StringP("script", "T", "", "linker script")
	fs.StringP("print-map", "M", "", "write a map file to the given path")
	fs.Bool("print-dependencies", false, "dump the archive/symbol dependency graph")
	fs.String("diag-json", "", "also emit diagnostics as JSON to this path")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: binding flags: %w", err)
	}

	v.SetEnvPrefix("MOLD")
	v.AutomaticEnv()

	cfg := &Config{
		Output:        v.GetString("output"),
		Inputs:        fs.Args(),
		SearchPaths:   v.GetStringSlice("library-path"),
		Entry:         v.GetString("entry"),
		Shared:        v.GetBool("shared"),
		Static:        v.GetBool("static"),
		PIE:           v.GetBool("pie") && !v.GetBool("no-pie"),
		GCSections:    v.GetBool("gc-sections"),
		ICF:           ICFMode(v.GetString("icf")),
		BuildID:       v.GetString("build-id"),
		Compress:      CompressMode(v.GetString("compress-debug-sections")),
		VersionScript: v.GetString("version-script"),
		DynamicList:   v.GetStringSlice("dynamic-list"),
		Wraps:         v.GetStringSlice("wrap"),
		Relocatable:   v.GetBool("relocatable"),
		EhFrameHdr:    v.GetBool("eh-frame-hdr"),
		PrintMap:      v.GetString("print-map"),
		PrintDeps:     v.GetBool("print-dependencies"),
		DiagJSON:      v.GetString("diag-json"),
	}
	if script := v.GetString("script"); script != "" {
		cfg.Scripts = append(cfg.Scripts, script)
	}
	cfg.Defsyms = parseDefsyms(v.GetStringSlice("defsym"))

	if path := os.Getenv("LD_LIBRARY_PATH"); path != "" {
		cfg.LibrarySearchEnv = strings.Split(path, ":")
	}
	cfg.Sysroot = os.Getenv("SYSROOT")

	switch cfg.ICF {
	case ICFNone, ICFSafe, ICFAll:
	default:
		return nil, fmt.Errorf("config: unknown --icf mode %q", cfg.ICF)
	}
	switch cfg.Compress {
	case CompressNone, CompressZlib, CompressZstd:
	default:
		return nil, fmt.Errorf("config: unknown --compress-debug-sections mode %q", cfg.Compress)
	}

	return cfg, nil
}

func parseDefsyms(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, expr, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[name] = expr
	}
	return out
}

// ExpandResponseFiles rewrites any "@path" argument into the whitespace
// (and newline) separated tokens read from path, recursively, matching the
// standard GNU linker response-file convention spec.md §6 calls for.
func ExpandResponseFiles(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if !strings.HasPrefix(a, "@") {
			out = append(out, a)
			continue
		}
		tokens, err := readResponseFile(a[1:])
		if err != nil {
			return nil, err
		}
		expanded, err := ExpandResponseFiles(tokens)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func readResponseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading response file %s: %w", path, err)
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		tokens = append(tokens, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: scanning response file %s: %w", path, err)
	}
	return tokens, nil
}
