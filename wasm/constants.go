package wasm

// Header
const (
	// Magic is "\0asm" read as a little-endian uint32.
	Magic uint32 = 0x6D736100

	// Version is the only binary format version accepted.
	Version uint32 = 0x01
)

// Section ids.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import and export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// ValType is a value type encoding.
type ValType byte

const (
	ValI32       ValType = 0x7F
	ValI64       ValType = 0x7E
	ValF32       ValType = 0x7D
	ValF64       ValType = 0x7C
	ValV128      ValType = 0x7B
	ValFuncRef   ValType = 0x70
	ValExternRef ValType = 0x6F
)

// String returns the text format name of the type.
func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	}
	return "unknown"
}

func (v ValType) valid() bool {
	return v.String() != "unknown"
}

const funcTypeByte byte = 0x60

// Limits flags.
const (
	limitsHasMax   byte = 0x01
	limitsShared   byte = 0x02
	limitsMemory64 byte = 0x04
)

// BlockTypeEmpty is the block type of a block, loop or if with no results.
const BlockTypeEmpty byte = 0x40

// Opcodes used in constant expressions and by code that assembles small
// function bodies.
const (
	OpUnreachable   byte = 0x00
	OpLoop          byte = 0x03
	OpEnd           byte = 0x0B
	OpBr            byte = 0x0C
	OpCall          byte = 0x10
	OpDrop          byte = 0x1A
	OpLocalGet      byte = 0x20
	OpLocalSet      byte = 0x21
	OpGlobalGet     byte = 0x23
	OpGlobalSet     byte = 0x24
	OpI32Const      byte = 0x41
	OpI64Const      byte = 0x42
	OpF32Const      byte = 0x43
	OpF64Const      byte = 0x44
	OpI32Add        byte = 0x6A
	OpI32Sub        byte = 0x6B
	OpI32Mul        byte = 0x6C
	OpI64Add        byte = 0x7C
	OpI64Sub        byte = 0x7D
	OpI64Mul        byte = 0x7E
	OpI64Or         byte = 0x84
	OpI64Shl        byte = 0x86
	OpI64ExtendI32U byte = 0xAD
	OpRefNull       byte = 0xD0
	OpRefFunc       byte = 0xD2
)
