package enginetest

import (
	"testing"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/wasm"
)

func TestDefaultFixtureParses(t *testing.T) {
	m, err := wasm.ParseModule(Default().Bytes())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	for _, name := range []string{"_initialize", "malloc", "free", SymGenerateKeys, SymEncrypt, SymDecrypt, SymEq} {
		if _, ok := m.ExportedFunc(name); !ok {
			t.Errorf("missing export %s", name)
		}
	}
	if _, ok := m.Export("memory"); !ok {
		t.Error("missing memory export")
	}
	op, _ := m.ExportedFunc(SymEncrypt)
	if op.String() != "(i32, i32) -> (i64)" {
		t.Errorf("op signature = %s", op)
	}
	if m.ImportModules()[0] != "luxfhe" {
		t.Errorf("imports = %v", m.ImportModules())
	}
}

func TestBuilderVariants(t *testing.T) {
	m := New().Command().WithoutAllocator().Import("gojs", "runtime.wasmExit").Module()

	if _, ok := m.ExportedFunc("_start"); !ok {
		t.Error("command fixture should export _start")
	}
	if _, ok := m.ExportedFunc("malloc"); ok {
		t.Error("allocator should be omitted")
	}
	mods := m.ImportModules()
	if mods[len(mods)-1] != "gojs" {
		t.Errorf("imports = %v", mods)
	}

	m = New().Exit(2).Module()
	found := false
	for _, imp := range m.Imports {
		if imp.Module == "wasi_snapshot_preview1" && imp.Name == "proc_exit" {
			found = true
		}
	}
	if !found {
		t.Error("Exit should import proc_exit")
	}
}

func TestWriteAndSpin(t *testing.T) {
	m, err := wasm.ParseModule(Default().Write(1, "out").Spin("spin").Bytes())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	mods := m.ImportModules()
	if mods[len(mods)-1] != "wasi_snapshot_preview1" {
		t.Errorf("imports = %v", mods)
	}
	ft, ok := m.ExportedFunc("spin")
	if !ok || ft.String() != "(i32, i32) -> (i64)" {
		t.Errorf("spin = %s, %v", ft, ok)
	}
	if ns := DefaultNamespace(); ns.Ops[fhewasm.OpLt] != SymLt {
		t.Errorf("default namespace = %+v", ns)
	}
}
