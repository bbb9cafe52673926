package engine

import (
	"fmt"
	"strings"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/wasm"
)

// ABI classifies how an engine binary expects to be hosted.
type ABI int

const (
	ABIUnknown ABI = iota
	ABIReactor     // WASI preview1 with _initialize
	ABICommand     // WASI preview1 with _start
	ABIGoJS        // GOOS=js, needs wasm_exec.js
)

func (a ABI) String() string {
	switch a {
	case ABIReactor:
		return "wasip1-reactor"
	case ABICommand:
		return "wasip1-command"
	case ABIGoJS:
		return "js"
	}
	return "unknown"
}

// Import module names.
const (
	HostModule = fhewasm.DefaultNamespace
	WASIModule = "wasi_snapshot_preview1"
)

var opSignature = wasm.FuncType{
	Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
	Results: []wasm.ValType{wasm.ValI64},
}

// Manifest summarizes an engine binary without instantiating it.
type Manifest struct {
	// Implicit maps ops to exports named exactly like them with the op
	// signature. Used when the engine does not publish a namespace.
	Implicit     map[fhewasm.Op]string
	Digest       string
	Entry        string
	Imports      []string // "module.name"
	Modules      []string // distinct import modules
	Exports      []string // function exports
	Sections     []string // custom section names
	HostFuncs    int      // imported functions
	ABI          ABI
	HasMemory    bool
	HasAllocator bool
	Publishes    bool
	GoToolchain  bool // carries the Go linker's build id
}

// Inspect parses bin and classifies it.
func Inspect(bin []byte) (*Manifest, error) {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindInvalidData, err, "parse engine binary")
	}

	man := &Manifest{
		Digest:   fhewasm.Digest(bin),
		Implicit: make(map[fhewasm.Op]string),
	}

	man.Modules = m.ImportModules()
	man.HostFuncs = m.ImportedFuncCount()
	man.GoToolchain = m.HasCustomSection("go:buildid")
	for _, cs := range m.CustomSections {
		man.Sections = append(man.Sections, cs.Name)
	}

	gojs := false
	for _, imp := range m.Imports {
		man.Imports = append(man.Imports, imp.Module+"."+imp.Name)
		switch imp.Module {
		case "gojs", "go":
			gojs = true
		case HostModule:
			if imp.Name == "publish" {
				man.Publishes = true
			}
		}
	}

	for _, e := range m.Exports {
		switch e.Kind {
		case wasm.KindMemory:
			if e.Name == "memory" {
				man.HasMemory = true
			}
		case wasm.KindFunc:
			man.Exports = append(man.Exports, e.Name)
		}
	}

	_, hasMalloc := m.ExportedFunc("malloc")
	_, hasFree := m.ExportedFunc("free")
	man.HasAllocator = hasMalloc && hasFree

	switch {
	case gojs:
		man.ABI = ABIGoJS
	case hasExport(m, "_initialize"):
		man.ABI, man.Entry = ABIReactor, "_initialize"
	case hasExport(m, "_start"):
		man.ABI, man.Entry = ABICommand, "_start"
	}

	for _, op := range fhewasm.Ops {
		if ft, ok := m.ExportedFunc(string(op)); ok && ft.Equal(opSignature) {
			man.Implicit[op] = string(op)
		}
	}
	return man, nil
}

func hasExport(m *wasm.Module, name string) bool {
	_, ok := m.ExportedFunc(name)
	return ok
}

// Check reports why the binary cannot run on this host, if it cannot.
func (m *Manifest) Check() error {
	switch m.ABI {
	case ABIGoJS:
		return errors.Unsupported(errors.PhaseInspect,
			"engine was built for GOOS=js and only runs under the browser loader")
	case ABIUnknown:
		return errors.Unsupported(errors.PhaseInspect, "engine exports neither _initialize nor _start")
	}
	for _, imp := range m.Imports {
		mod, _, _ := strings.Cut(imp, ".")
		if mod != HostModule && mod != WASIModule {
			return errors.Unsupported(errors.PhaseInspect, fmt.Sprintf("import %s is not provided by this host", imp))
		}
	}
	if !m.HasMemory {
		return errors.MissingExport(errors.PhaseInspect, "memory")
	}
	if !m.HasAllocator {
		return errors.MissingExport(errors.PhaseInspect, "malloc")
	}
	return nil
}
