package wasm

// Module is the decoded form of a core WebAssembly binary.
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // type index per defined function
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Start          *uint32
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection

	// Skipped lists the ids of sections that were present but not decoded.
	Skipped []byte
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// String renders the signature as "(i32, i32) -> (i64)".
func (f FuncType) String() string {
	return "(" + joinTypes(f.Params) + ") -> (" + joinTypes(f.Results) + ")"
}

func joinTypes(ts []ValType) string {
	s := ""
	for i, t := range ts {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	return s
}

// Import is an imported definition.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes what is imported. Only the field matching Kind is set.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Tag     *TagType
	TypeIdx uint32
	Kind    byte
}

// Limits bound a memory or table.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// TableType describes an imported table.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// TagType describes an imported exception tag.
type TagType struct {
	Attribute byte
	TypeIdx   uint32
}

// GlobalType is the type of a global.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a defined global with its constant initializer, including the
// trailing end opcode.
type Global struct {
	Init []byte
	Type GlobalType
}

// Export is an exported definition.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// FuncBody is a function body. Code holds the instruction bytes including
// the final end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// DataSegment is an active or passive data segment.
type DataSegment struct {
	Offset []byte // constant expression; nil for passive segments
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// ImportedFuncCount returns how many functions the module imports. Defined
// function indices start after them.
func (m *Module) ImportedFuncCount() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// FuncType returns the signature of the function at funcIdx in the combined
// import-then-defined index space.
func (m *Module) FuncType(funcIdx uint32) (FuncType, bool) {
	var typeIdx uint32
	idx := int(funcIdx)
	found := false
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if idx == 0 {
			typeIdx = imp.Desc.TypeIdx
			found = true
			break
		}
		idx--
	}
	if !found {
		if idx >= len(m.Funcs) {
			return FuncType{}, false
		}
		typeIdx = m.Funcs[idx]
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// Export looks up an export by name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// ExportedFunc returns the signature of the function exported as name.
func (m *Module) ExportedFunc(name string) (FuncType, bool) {
	e, ok := m.Export(name)
	if !ok || e.Kind != KindFunc {
		return FuncType{}, false
	}
	return m.FuncType(e.Index)
}

// ImportModules returns the distinct module names of all imports in order
// of first appearance.
func (m *Module) ImportModules() []string {
	seen := make(map[string]bool)
	var out []string
	for _, imp := range m.Imports {
		if !seen[imp.Module] {
			seen[imp.Module] = true
			out = append(out, imp.Module)
		}
	}
	return out
}

// HasCustomSection reports whether a custom section with name exists.
func (m *Module) HasCustomSection(name string) bool {
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			return true
		}
	}
	return false
}
