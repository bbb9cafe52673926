// Package enginetest assembles small engine binaries in memory so the
// engine and loader can be exercised without a real FHE build.
//
// A fixture imports the luxfhe host functions, exports memory, a bump
// allocator and an entry point, and serves each op either from a constant
// CBOR blob in its data segment, by echoing its argument buffer, by calling
// luxfhe.fail, or by looping until the host aborts the call.
package enginetest

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/wasm"
)

const (
	dataBase  = 1024
	heapFloor = 8192
	pageSize  = 65536
)

// Standard op symbols used by Default.
const (
	SymVersion      = "luxfhe_version"
	SymGenerateKeys = "luxfhe_generate_keys"
	SymEncrypt      = "luxfhe_encrypt"
	SymDecrypt      = "luxfhe_decrypt"
	SymAdd          = "luxfhe_add"
	SymSub          = "luxfhe_sub"
	SymEq           = "luxfhe_eq"
	SymLt           = "luxfhe_lt"
)

// Values served by Default.
var (
	Version    = "0.1.0-test"
	Keys       = fhewasm.Keys{PublicKey: []byte("pk"), PrivateKey: []byte("sk"), EvaluationKey: []byte("ek")}
	Ciphertext = []byte{0xc1, 0x9e, 0x0b, 0x00}
	Plaintext  = uint64(42)
)

type opKind int

const (
	opConst opKind = iota
	opEcho
	opFail
	opSpin
)

type op struct {
	symbol string
	kind   opKind
	data   []byte
}

type logLine struct {
	level int32
	msg   []byte
}

type write struct {
	fd  int32
	msg []byte
}

// Builder assembles a fixture module.
type Builder struct {
	namespace *fhewasm.Namespace
	ops       []op
	logs      []logLine
	writes    []write
	imports   []wasm.Import
	command   bool
	exitCode  *uint32
	noAlloc   bool
	noMemory  bool
}

// New returns an empty builder: reactor entry, allocator, no ops.
func New() *Builder {
	return &Builder{}
}

// DefaultNamespace is the namespace Default publishes.
func DefaultNamespace() fhewasm.Namespace {
	return fhewasm.Namespace{
		Name:    fhewasm.DefaultNamespace,
		Version: Version,
		Ops: map[fhewasm.Op]string{
			fhewasm.OpVersion:      SymVersion,
			fhewasm.OpGenerateKeys: SymGenerateKeys,
			fhewasm.OpEncrypt:      SymEncrypt,
			fhewasm.OpDecrypt:      SymDecrypt,
			fhewasm.OpAdd:          SymAdd,
			fhewasm.OpSub:          SymSub,
			fhewasm.OpEq:           SymEq,
			fhewasm.OpLt:           SymLt,
		},
	}
}

// Default returns a builder that publishes DefaultNamespace. generateKeys,
// encrypt, decrypt and version return the package-level values; add and
// sub echo their arguments; eq and lt fail.
func Default() *Builder {
	b := New().
		Const(SymVersion, Version).
		Const(SymGenerateKeys, Keys).
		Const(SymEncrypt, Ciphertext).
		Const(SymDecrypt, Plaintext).
		Echo(SymAdd).
		Echo(SymSub).
		Fail(SymEq, "eq is not supported by this engine").
		Fail(SymLt, "lt is not supported by this engine")
	return b.Publish(DefaultNamespace())
}

// Publish makes the entry point publish ns.
func (b *Builder) Publish(ns fhewasm.Namespace) *Builder {
	b.namespace = &ns
	return b
}

// Unpublished drops any namespace publication.
func (b *Builder) Unpublished() *Builder {
	b.namespace = nil
	return b
}

// Const exports symbol returning the CBOR encoding of v.
func (b *Builder) Const(symbol string, v any) *Builder {
	data, err := cbor.Marshal(v)
	if err != nil {
		panic(err)
	}
	b.ops = append(b.ops, op{symbol: symbol, kind: opConst, data: data})
	return b
}

// Raw exports symbol returning data verbatim.
func (b *Builder) Raw(symbol string, data []byte) *Builder {
	b.ops = append(b.ops, op{symbol: symbol, kind: opConst, data: data})
	return b
}

// Echo exports symbol returning its argument buffer.
func (b *Builder) Echo(symbol string) *Builder {
	b.ops = append(b.ops, op{symbol: symbol, kind: opEcho})
	return b
}

// Fail exports symbol calling luxfhe.fail with msg and returning 0.
func (b *Builder) Fail(symbol, msg string) *Builder {
	b.ops = append(b.ops, op{symbol: symbol, kind: opFail, data: []byte(msg)})
	return b
}

// Spin exports symbol looping forever. Only an aborted call returns.
func (b *Builder) Spin(symbol string) *Builder {
	b.ops = append(b.ops, op{symbol: symbol, kind: opSpin})
	return b
}

// Write makes the entry point write msg to fd (1 stdout, 2 stderr) through
// WASI fd_write.
func (b *Builder) Write(fd int32, msg string) *Builder {
	b.writes = append(b.writes, write{fd: fd, msg: []byte(msg)})
	return b
}

// Log makes the entry point emit msg through luxfhe.log.
func (b *Builder) Log(level int32, msg string) *Builder {
	b.logs = append(b.logs, logLine{level: level, msg: []byte(msg)})
	return b
}

// Import adds a function import of type () -> ().
func (b *Builder) Import(module, name string) *Builder {
	b.imports = append(b.imports, wasm.Import{Module: module, Name: name, Desc: wasm.ImportDesc{Kind: wasm.KindFunc}})
	return b
}

// Command exports _start instead of _initialize.
func (b *Builder) Command() *Builder {
	b.command = true
	return b
}

// Exit makes _start call proc_exit(code). Implies Command.
func (b *Builder) Exit(code uint32) *Builder {
	b.command = true
	b.exitCode = &code
	return b
}

// WithoutAllocator omits the malloc and free exports.
func (b *Builder) WithoutAllocator() *Builder {
	b.noAlloc = true
	return b
}

// WithoutMemory omits the memory export.
func (b *Builder) WithoutMemory() *Builder {
	b.noMemory = true
	return b
}

// Module assembles the fixture.
func (b *Builder) Module() *wasm.Module {
	var (
		tPair  = uint32(0) // (i32, i32) -> ()
		tVoid  = uint32(1) // () -> ()
		tAlloc = uint32(2) // (i32) -> (i32)
		tOp    = uint32(3) // (i32, i32) -> (i64)
		tLog   = uint32(4) // (i32, i32, i32) -> ()
		tExit  = uint32(5) // (i32) -> ()
		tWrite = uint32(6) // (i32, i32, i32, i32) -> (i32)
	)
	vi32, vi64 := wasm.ValI32, wasm.ValI64
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{vi32, vi32}},
			{},
			{Params: []wasm.ValType{vi32}, Results: []wasm.ValType{vi32}},
			{Params: []wasm.ValType{vi32, vi32}, Results: []wasm.ValType{vi64}},
			{Params: []wasm.ValType{vi32, vi32, vi32}},
			{Params: []wasm.ValType{vi32}},
			{Params: []wasm.ValType{vi32, vi32, vi32, vi32}, Results: []wasm.ValType{vi32}},
		},
	}

	fn := func(module, name string, typeIdx uint32) uint32 {
		m.Imports = append(m.Imports, wasm.Import{Module: module, Name: name, Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx}})
		return uint32(len(m.Imports) - 1)
	}
	publishIdx := fn(fhewasm.DefaultNamespace, "publish", tPair)
	failIdx := fn(fhewasm.DefaultNamespace, "fail", tPair)
	logIdx := fn(fhewasm.DefaultNamespace, "log", tLog)
	var exitIdx, writeIdx uint32
	if b.exitCode != nil {
		exitIdx = fn("wasi_snapshot_preview1", "proc_exit", tExit)
	}
	if len(b.writes) > 0 {
		writeIdx = fn("wasi_snapshot_preview1", "fd_write", tWrite)
	}
	for _, imp := range b.imports {
		fn(imp.Module, imp.Name, tVoid)
	}

	next := uint32(dataBase)
	place := func(data []byte) (uint32, uint32) {
		off := next
		m.Data = append(m.Data, wasm.DataSegment{Offset: wasm.I32Const(int32(off)), Init: data})
		next += uint32(len(data))
		next = (next + 7) &^ 7
		return off, uint32(len(data))
	}

	define := func(name string, typeIdx uint32, code []byte) {
		idx := uint32(len(m.Imports) + len(m.Funcs))
		m.Funcs = append(m.Funcs, typeIdx)
		m.Code = append(m.Code, wasm.FuncBody{Code: code})
		if name != "" {
			m.Exports = append(m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Index: idx})
		}
	}

	var entry []byte
	for _, w := range b.writes {
		off, n := place(w.msg)
		iov := binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint32(nil, off), n)
		iovOff, _ := place(iov)
		nwritten, _ := place(make([]byte, 4))
		entry = i32(entry, w.fd)
		entry = i32(entry, int32(iovOff))
		entry = i32(entry, 1)
		entry = i32(entry, int32(nwritten))
		entry = call(entry, writeIdx)
		entry = append(entry, wasm.OpDrop)
	}
	for _, l := range b.logs {
		off, n := place(l.msg)
		entry = i32(entry, l.level)
		entry = pair(entry, off, n)
		entry = call(entry, logIdx)
	}
	if b.namespace != nil {
		data, err := cbor.Marshal(b.namespace)
		if err != nil {
			panic(err)
		}
		off, n := place(data)
		entry = pair(entry, off, n)
		entry = call(entry, publishIdx)
	}
	if b.exitCode != nil {
		entry = i32(entry, int32(*b.exitCode))
		entry = call(entry, exitIdx)
	}
	entryName := "_initialize"
	if b.command {
		entryName = "_start"
	}
	define(entryName, tVoid, append(entry, wasm.OpEnd))

	if !b.noAlloc {
		define("malloc", tAlloc, []byte{
			wasm.OpGlobalGet, 0,
			wasm.OpGlobalGet, 0,
			wasm.OpLocalGet, 0,
			wasm.OpI32Add,
			wasm.OpGlobalSet, 0,
			wasm.OpEnd,
		})
		define("free", tPair, []byte{wasm.OpEnd})
	}

	for _, o := range b.ops {
		var code []byte
		switch o.kind {
		case opConst:
			off, n := place(o.data)
			code = wasm.I64Const(int64(off)<<32 | int64(n))
		case opEcho:
			code = []byte{
				wasm.OpLocalGet, 0,
				wasm.OpI64ExtendI32U,
				wasm.OpI64Const, 32,
				wasm.OpI64Shl,
				wasm.OpLocalGet, 1,
				wasm.OpI64ExtendI32U,
				wasm.OpI64Or,
				wasm.OpEnd,
			}
		case opFail:
			off, n := place(o.data)
			code = pair(nil, off, n)
			code = call(code, failIdx)
			code = append(code, wasm.I64Const(0)...)
		case opSpin:
			code = []byte{wasm.OpLoop, wasm.BlockTypeEmpty, wasm.OpBr, 0, wasm.OpEnd}
			code = append(code, wasm.I64Const(0)...)
		}
		define(o.symbol, tOp, code)
	}

	heap := next
	if heap < heapFloor {
		heap = heapFloor
	}
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.I32Const(int32(heap)),
	}}
	pages := uint64(heap)/pageSize + 2
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: pages}}}
	if !b.noMemory {
		m.Exports = append(m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory})
	}
	return m
}

// Bytes returns the encoded fixture.
func (b *Builder) Bytes() []byte {
	return b.Module().Encode()
}

func i32(code []byte, v int32) []byte {
	return wasm.AppendS32(append(code, wasm.OpI32Const), v)
}

func pair(code []byte, off, n uint32) []byte {
	return i32(i32(code, int32(off)), int32(n))
}

func call(code []byte, idx uint32) []byte {
	return wasm.AppendU32(append(code, wasm.OpCall), idx)
}
