// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"debug/elf"
	"fmt"
)

// readSharedObject parses the dynamic symbol table of an ET_DYN file into a
// symbol-only InputFile (spec.md §4.1): a shared object contributes
// candidate definitions to symbol resolution but never contributes
// sections, relocations, or bytes to the output.
func (rd *objReader) readSharedObject() (*InputFile, error) {
	f := &InputFile{
		Provenance:     rd.prov,
		Target:         rd.target,
		IsSharedObject: true,
	}

	if names, err := rd.ef.DynString(elf.DT_SONAME); err == nil && len(names) > 0 {
		f.SOName = names[0]
	} else {
		f.SOName = rd.prov.Path
	}

	dynSyms, err := rd.ef.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("%s: reading dynamic symbols: %w", rd.prov, err)
	}
	for _, es := range dynSyms {
		if es.Name == "" {
			continue
		}
		f.Symbols = append(f.Symbols, rd.convertSymbol(es))
	}
	return f, nil
}
