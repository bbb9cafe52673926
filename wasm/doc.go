// Package wasm reads and writes the parts of the WebAssembly binary format
// the engine loader cares about.
//
// It is not a validator. ParseModule decodes the header and the type,
// import, function, memory, global, export, start, code, data and custom
// sections; table, element, data-count and tag sections are skipped and
// their ids recorded in Module.Skipped. Function bodies are kept as raw
// bytes.
//
// # Parsing
//
//	data, _ := os.ReadFile("luxfhe.wasm")
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, imp := range m.Imports {
//	    fmt.Println(imp.Module, imp.Name)
//	}
//
// # Encoding
//
// Module.Encode writes the decoded sections back out. Skipped sections are
// not preserved, so Encode is meant for modules assembled in code, such as
// test fixtures:
//
//	m := &wasm.Module{
//	    Types:   []wasm.FuncType{{}},
//	    Funcs:   []uint32{0},
//	    Code:    []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
//	    Exports: []wasm.Export{{Name: "_initialize", Kind: wasm.KindFunc}},
//	}
//	bin := m.Encode()
//
// # LEB128
//
// ReadU32, ReadS64 and friends decode from an io.ByteReader; the Append
// variants encode onto a byte slice.
package wasm
