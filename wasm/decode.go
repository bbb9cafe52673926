package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// IsBinary reports whether data starts with the wasm magic and version.
func IsBinary(data []byte) bool {
	return len(data) >= 8 &&
		binary.LittleEndian.Uint32(data[0:4]) == Magic &&
		binary.LittleEndian.Uint32(data[4:8]) == Version
}

// ParseModule decodes a WebAssembly binary module.
func ParseModule(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("header: %w", io.ErrUnexpectedEOF)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	r := newReader(data[8:])
	last := 0
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, fmt.Errorf("unknown section id 0x%02x", id)
			}
			if order <= last {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			last = order
		}

		payload, err := r.vec()
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		sr := newReader(payload)

		switch id {
		case SectionCustom:
			err = parseCustom(sr, m)
		case SectionType:
			err = parseTypes(sr, m)
		case SectionImport:
			err = parseImports(sr, m)
		case SectionFunction:
			err = parseFunctions(sr, m)
		case SectionMemory:
			err = parseMemories(sr, m)
		case SectionGlobal:
			err = parseGlobals(sr, m)
		case SectionExport:
			err = parseExports(sr, m)
		case SectionStart:
			var idx uint32
			idx, err = ReadU32(sr)
			m.Start = &idx
		case SectionCode:
			err = parseCode(sr, m)
		case SectionData:
			err = parseData(sr, m)
		default:
			m.Skipped = append(m.Skipped, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(id), err)
		}
		if id != SectionCustom && sr.Len() != 0 {
			return nil, fmt.Errorf("%s section: %d trailing bytes", sectionName(id), sr.Len())
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section counts differ: %d != %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// sectionOrder returns the canonical position of a non-custom section, or 0
// for an unknown id. Tag sits between memory and global; data-count
// precedes code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

func sectionName(id byte) string {
	names := [...]string{"custom", "type", "import", "function", "table", "memory",
		"global", "export", "start", "element", "code", "data", "data count", "tag"}
	if int(id) < len(names) {
		return names[id]
	}
	return fmt.Sprintf("0x%02x", id)
}

type reader struct {
	*bytes.Reader
}

func newReader(b []byte) *reader {
	return &reader{bytes.NewReader(b)}
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if uint64(n) > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func (r *reader) vec() ([]byte, error) {
	n, err := ReadU32(r)
	if err != nil {
		return nil, err
	}
	return r.bytes(n)
}

func (r *reader) name() (string, error) {
	b, err := r.vec()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("name is not valid UTF-8")
	}
	return string(b), nil
}

func (r *reader) count() (uint32, error) {
	n, err := ReadU32(r)
	if err != nil {
		return 0, err
	}
	// every entry takes at least one byte
	if uint64(n) > uint64(r.Len()) {
		return 0, fmt.Errorf("count %d exceeds remaining %d bytes", n, r.Len())
	}
	return n, nil
}

func (r *reader) valType() (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	v := ValType(b)
	if !v.valid() {
		return 0, fmt.Errorf("unsupported value type 0x%02x", b)
	}
	return v, nil
}

func (r *reader) valTypes() ([]ValType, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, n)
	for i := range out {
		if out[i], err = r.valType(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *reader) limits() (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(limitsHasMax|limitsShared|limitsMemory64) != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	l := Limits{
		Shared:   flags&limitsShared != 0,
		Memory64: flags&limitsMemory64 != 0,
	}
	if l.Min, err = ReadU64(r); err != nil {
		return Limits{}, err
	}
	if flags&limitsHasMax != 0 {
		max, err := ReadU64(r)
		if err != nil {
			return Limits{}, err
		}
		l.Max = &max
	}
	return l, nil
}

func (r *reader) globalType() (GlobalType, error) {
	vt, err := r.valType()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// constExpr reads a constant expression up to and including its end opcode
// and returns the raw bytes.
func (r *reader) constExpr() ([]byte, error) {
	start := int(r.Size()) - r.Len()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			end := int(r.Size()) - r.Len()
			buf := make([]byte, end-start)
			if _, err := r.ReadAt(buf, int64(start)); err != nil {
				return nil, err
			}
			return buf, nil
		case OpI32Const:
			_, err = ReadS32(r)
		case OpI64Const:
			_, err = ReadS64(r)
		case OpF32Const:
			_, err = r.bytes(4)
		case OpF64Const:
			_, err = r.bytes(8)
		case OpGlobalGet, OpRefFunc:
			_, err = ReadU32(r)
		case OpRefNull:
			_, err = r.ReadByte()
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseCustom(r *reader, m *Module) error {
	name, err := r.name()
	if err != nil {
		return err
	}
	data, err := r.bytes(uint32(r.Len()))
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypes(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, n)
	for i := range m.Types {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != funcTypeByte {
			return fmt.Errorf("type %d: unsupported form 0x%02x", i, form)
		}
		if m.Types[i].Params, err = r.valTypes(); err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		if m.Types[i].Results, err = r.valTypes(); err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
	}
	return nil
}

func parseImports(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, n)
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		if imp.Desc.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Desc.Kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = ReadU32(r)
		case KindTable:
			var t TableType
			if t.ElemType, err = r.valType(); err == nil {
				t.Limits, err = r.limits()
			}
			imp.Desc.Table = &t
		case KindMemory:
			var mt MemoryType
			mt.Limits, err = r.limits()
			imp.Desc.Memory = &mt
		case KindGlobal:
			var gt GlobalType
			gt, err = r.globalType()
			imp.Desc.Global = &gt
		case KindTag:
			var tt TagType
			if tt.Attribute, err = r.ReadByte(); err == nil {
				tt.TypeIdx, err = ReadU32(r)
			}
			imp.Desc.Tag = &tt
		default:
			return fmt.Errorf("import %s.%s: unknown kind 0x%02x", imp.Module, imp.Name, imp.Desc.Kind)
		}
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
		}
	}
	return nil
}

func parseFunctions(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, n)
	for i := range m.Funcs {
		if m.Funcs[i], err = ReadU32(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemories(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, n)
	for i := range m.Memories {
		if m.Memories[i].Limits, err = r.limits(); err != nil {
			return err
		}
	}
	return nil
}

func parseGlobals(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, n)
	for i := range m.Globals {
		if m.Globals[i].Type, err = r.globalType(); err != nil {
			return err
		}
		if m.Globals[i].Init, err = r.constExpr(); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	return nil
}

func parseExports(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, n)
	seen := make(map[string]bool, n)
	for i := range m.Exports {
		e := &m.Exports[i]
		if e.Name, err = r.name(); err != nil {
			return err
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate export %q", e.Name)
		}
		seen[e.Name] = true
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Kind > KindTag {
			return fmt.Errorf("export %q: unknown kind 0x%02x", e.Name, e.Kind)
		}
		if e.Index, err = ReadU32(r); err != nil {
			return err
		}
	}
	return nil
}

func parseCode(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, n)
	for i := range m.Code {
		body, err := r.vec()
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		br := newReader(body)
		groups, err := br.count()
		if err != nil {
			return fmt.Errorf("body %d locals: %w", i, err)
		}
		locals := make([]LocalEntry, groups)
		for j := range locals {
			if locals[j].Count, err = ReadU32(br); err != nil {
				return err
			}
			if locals[j].ValType, err = br.valType(); err != nil {
				return err
			}
		}
		code, err := br.bytes(uint32(br.Len()))
		if err != nil {
			return err
		}
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("body %d: missing end opcode", i)
		}
		m.Code[i] = FuncBody{Locals: locals, Code: code}
	}
	return nil
}

func parseData(r *reader, m *Module) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, n)
	for i := range m.Data {
		d := &m.Data[i]
		if d.Flags, err = ReadU32(r); err != nil {
			return err
		}
		switch d.Flags {
		case 0:
		case 1:
		case 2:
			if d.MemIdx, err = ReadU32(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("segment %d: invalid flags %d", i, d.Flags)
		}
		if d.Flags != 1 {
			if d.Offset, err = r.constExpr(); err != nil {
				return fmt.Errorf("segment %d offset: %w", i, err)
			}
		}
		if d.Init, err = r.vec(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}
