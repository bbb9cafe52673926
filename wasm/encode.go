package wasm

import "encoding/binary"

// Encode writes the module in binary format. Sections recorded in Skipped
// are not reproduced.
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.Types) > 0 {
		sec := AppendU32(nil, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, funcTypeByte)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := AppendU32(nil, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec = AppendU32(sec, imp.Desc.TypeIdx)
			case KindTable:
				sec = append(sec, byte(imp.Desc.Table.ElemType))
				sec = appendLimits(sec, imp.Desc.Table.Limits)
			case KindMemory:
				sec = appendLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				sec = appendGlobalType(sec, *imp.Desc.Global)
			case KindTag:
				sec = append(sec, imp.Desc.Tag.Attribute)
				sec = AppendU32(sec, imp.Desc.Tag.TypeIdx)
			}
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := AppendU32(nil, uint32(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sec = AppendU32(sec, idx)
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Memories) > 0 {
		sec := AppendU32(nil, uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			sec = appendLimits(sec, mem.Limits)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := AppendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = appendGlobalType(sec, g.Type)
			sec = append(sec, g.Init...)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := AppendU32(nil, uint32(len(m.Exports)))
		for _, e := range m.Exports {
			sec = appendName(sec, e.Name)
			sec = append(sec, e.Kind)
			sec = AppendU32(sec, e.Index)
		}
		out = appendSection(out, SectionExport, sec)
	}

	if m.Start != nil {
		out = appendSection(out, SectionStart, AppendU32(nil, *m.Start))
	}

	if len(m.Code) > 0 {
		sec := AppendU32(nil, uint32(len(m.Code)))
		for _, body := range m.Code {
			b := AppendU32(nil, uint32(len(body.Locals)))
			for _, l := range body.Locals {
				b = AppendU32(b, l.Count)
				b = append(b, byte(l.ValType))
			}
			b = append(b, body.Code...)
			sec = AppendU32(sec, uint32(len(b)))
			sec = append(sec, b...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := AppendU32(nil, uint32(len(m.Data)))
		for _, d := range m.Data {
			sec = AppendU32(sec, d.Flags)
			if d.Flags == 2 {
				sec = AppendU32(sec, d.MemIdx)
			}
			if d.Flags != 1 {
				sec = append(sec, d.Offset...)
			}
			sec = AppendU32(sec, uint32(len(d.Init)))
			sec = append(sec, d.Init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	for _, cs := range m.CustomSections {
		sec := appendName(nil, cs.Name)
		sec = append(sec, cs.Data...)
		out = appendSection(out, SectionCustom, sec)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = AppendU32(out, uint32(len(payload)))
	return append(out, payload...)
}

func appendName(out []byte, s string) []byte {
	out = AppendU32(out, uint32(len(s)))
	return append(out, s...)
}

func appendValTypes(out []byte, ts []ValType) []byte {
	out = AppendU32(out, uint32(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func appendLimits(out []byte, l Limits) []byte {
	var flags byte
	if l.Max != nil {
		flags |= limitsHasMax
	}
	if l.Shared {
		flags |= limitsShared
	}
	if l.Memory64 {
		flags |= limitsMemory64
	}
	out = append(out, flags)
	out = AppendU64(out, l.Min)
	if l.Max != nil {
		out = AppendU64(out, *l.Max)
	}
	return out
}

func appendGlobalType(out []byte, g GlobalType) []byte {
	var mut byte
	if g.Mutable {
		mut = 1
	}
	return append(out, byte(g.ValType), mut)
}

// I32Const returns the constant expression "i32.const v; end".
func I32Const(v int32) []byte {
	return append(AppendS32([]byte{OpI32Const}, v), OpEnd)
}

// I64Const returns the constant expression "i64.const v; end".
func I64Const(v int64) []byte {
	return append(AppendS64([]byte{OpI64Const}, v), OpEnd)
}
