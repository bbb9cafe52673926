package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/internal/enginetest"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func load(t *testing.T, e *Engine, b *enginetest.Builder) *Instance {
	t.Helper()
	inst, err := e.Load(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return inst
}

func requireClass(t *testing.T, err error, phase errors.Phase, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected [%s] %s error, got nil", phase, kind)
	}
	if !errors.Is(err, &errors.Error{Phase: phase, Kind: kind}) {
		t.Fatalf("expected [%s] %s error, got %v", phase, kind, err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"default config", Config{}},
		{"16MB limit", Config{MemoryLimitPages: 256}},
		{"disk cache", Config{CacheDir: t.TempDir()}},
		{"small compiled cache", Config{CompiledCacheSize: 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if e.Cached() != 0 {
				t.Errorf("new engine has %d cached modules", e.Cached())
			}
		})
	}
}

func TestDefaultEngineOps(t *testing.T) {
	ctx := context.Background()
	inst := load(t, newEngine(t, Config{}), enginetest.Default())

	if inst.Manifest().ABI != ABIReactor {
		t.Errorf("ABI = %s, want reactor", inst.Manifest().ABI)
	}
	if ns := inst.Namespace(); ns.Name != fhewasm.DefaultNamespace || len(ns.Ops) != len(fhewasm.Ops) {
		t.Errorf("namespace = %+v", ns)
	}

	v, err := inst.Version(ctx)
	if err != nil || v != enginetest.Version {
		t.Errorf("Version = %q, %v", v, err)
	}

	keys, err := inst.GenerateKeys(ctx)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	if !bytes.Equal(keys.PublicKey, enginetest.Keys.PublicKey) ||
		!bytes.Equal(keys.PrivateKey, enginetest.Keys.PrivateKey) ||
		!bytes.Equal(keys.EvaluationKey, enginetest.Keys.EvaluationKey) {
		t.Errorf("keys = %+v", keys)
	}

	ct, err := inst.Encrypt(ctx, 200, 8, keys.PublicKey)
	if err != nil || !bytes.Equal(ct, enginetest.Ciphertext) {
		t.Errorf("Encrypt = %x, %v", ct, err)
	}

	pt, err := inst.Decrypt(ctx, ct, keys.PrivateKey)
	if err != nil || pt != enginetest.Plaintext {
		t.Errorf("Decrypt = %d, %v", pt, err)
	}
}

func TestCallMarshalsArguments(t *testing.T) {
	inst := load(t, newEngine(t, Config{}), enginetest.Default())

	var echoed [][]byte
	err := inst.Call(context.Background(), fhewasm.OpAdd, &echoed, []byte("lhs"), []byte("rhs"), []byte("ek"))
	if err != nil {
		t.Fatalf("Call(add): %v", err)
	}
	if len(echoed) != 3 || string(echoed[0]) != "lhs" || string(echoed[1]) != "rhs" || string(echoed[2]) != "ek" {
		t.Errorf("echoed = %q", echoed)
	}

	if err := inst.Call(context.Background(), fhewasm.OpAdd, nil, []byte("a"), []byte("b"), []byte("c")); err != nil {
		t.Errorf("discarding result: %v", err)
	}
}

func TestCallErrors(t *testing.T) {
	ctx := context.Background()
	inst := load(t, newEngine(t, Config{}), enginetest.Default())

	_, err := inst.Eq(ctx, []byte("a"), []byte("b"), []byte("ek"))
	requireClass(t, err, errors.PhaseCall, errors.KindEngine)
	var e *errors.Error
	if !errors.As(err, &e) || e.Op != "eq" || e.Detail != "eq is not supported by this engine" {
		t.Errorf("engine error = %+v", e)
	}

	_, err = inst.Encrypt(ctx, 16, 4, []byte("pk"))
	requireClass(t, err, errors.PhaseEncode, errors.KindInvalidInput)

	err = inst.Call(ctx, fhewasm.OpEncrypt, nil, 1, uint8(8), []byte("pk"))
	requireClass(t, err, errors.PhaseEncode, errors.KindInvalidInput)

	err = inst.Call(ctx, fhewasm.Op("mul"), nil)
	requireClass(t, err, errors.PhaseCall, errors.KindInvalidInput)

	// add echoes a CBOR array, which does not decode into a ciphertext
	_, err = inst.Add(ctx, []byte("a"), []byte("b"), []byte("ek"))
	requireClass(t, err, errors.PhaseDecode, errors.KindInvalidData)
}

func TestCallGarbageResult(t *testing.T) {
	b := enginetest.New().
		Const(enginetest.SymGenerateKeys, enginetest.Keys).
		Const(enginetest.SymEncrypt, enginetest.Ciphertext).
		Raw(enginetest.SymDecrypt, []byte{0xff}).
		Publish(fhewasm.Namespace{Ops: map[fhewasm.Op]string{
			fhewasm.OpGenerateKeys: enginetest.SymGenerateKeys,
			fhewasm.OpEncrypt:      enginetest.SymEncrypt,
			fhewasm.OpDecrypt:      enginetest.SymDecrypt,
		}})
	inst := load(t, newEngine(t, Config{}), b)

	_, err := inst.Decrypt(context.Background(), []byte("ct"), []byte("sk"))
	requireClass(t, err, errors.PhaseDecode, errors.KindInvalidData)

	// unpublished op
	_, err = inst.Sub(context.Background(), nil, nil, nil)
	requireClass(t, err, errors.PhaseCall, errors.KindUnsupported)
}

func TestImplicitNamespace(t *testing.T) {
	implicit := func() *enginetest.Builder {
		return enginetest.New().
			Const("generateKeys", enginetest.Keys).
			Const("encrypt", enginetest.Ciphertext).
			Const("decrypt", uint64(7))
	}

	inst := load(t, newEngine(t, Config{}), implicit())
	if inst.Namespace().Name != fhewasm.DefaultNamespace {
		t.Errorf("namespace name = %q", inst.Namespace().Name)
	}
	v, err := inst.Decrypt(context.Background(), []byte("ct"), []byte("sk"))
	if err != nil || v != 7 {
		t.Errorf("Decrypt = %d, %v", v, err)
	}

	_, err = newEngine(t, Config{RequirePublish: true}).Load(context.Background(), implicit().Bytes())
	requireClass(t, err, errors.PhasePublish, errors.KindNotFound)
}

func TestMissingRequiredOp(t *testing.T) {
	ns := fhewasm.Namespace{Ops: map[fhewasm.Op]string{
		fhewasm.OpGenerateKeys: enginetest.SymGenerateKeys,
		fhewasm.OpEncrypt:      enginetest.SymEncrypt,
		fhewasm.OpDecrypt:      "luxfhe_missing",
	}}
	b := enginetest.New().
		Const(enginetest.SymGenerateKeys, enginetest.Keys).
		Const(enginetest.SymEncrypt, enginetest.Ciphertext).
		Publish(ns)

	_, err := newEngine(t, Config{}).Load(context.Background(), b.Bytes())
	requireClass(t, err, errors.PhaseInstantiate, errors.KindMissingExport)
	var e *errors.Error
	if errors.As(err, &e) && e.Op != "decrypt" {
		t.Errorf("Op = %q, want decrypt", e.Op)
	}
}

func TestEntryPoints(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})

	inst, err := e.Load(ctx, enginetest.Default().Command().Bytes())
	if err != nil {
		t.Fatalf("command engine returning normally: %v", err)
	}
	if inst.Manifest().ABI != ABICommand {
		t.Errorf("ABI = %s, want command", inst.Manifest().ABI)
	}

	_, err = e.Load(ctx, enginetest.Default().Exit(3).Bytes())
	requireClass(t, err, errors.PhaseEntry, errors.KindEngine)

	_, err = e.Load(ctx, enginetest.Default().Exit(0).Bytes())
	requireClass(t, err, errors.PhaseEntry, errors.KindUnsupported)
}

func TestCompileRejects(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})

	tests := []struct {
		name  string
		bin   []byte
		phase errors.Phase
		kind  errors.Kind
	}{
		{"garbage", []byte("not wasm at all"), errors.PhaseInspect, errors.KindInvalidData},
		{"gojs build", enginetest.Default().Import("gojs", "runtime.wasmExit").Bytes(), errors.PhaseInspect, errors.KindUnsupported},
		{"foreign import", enginetest.Default().Import("env", "abort").Bytes(), errors.PhaseInspect, errors.KindUnsupported},
		{"no allocator", enginetest.Default().WithoutAllocator().Bytes(), errors.PhaseInspect, errors.KindMissingExport},
		{"no memory", enginetest.Default().WithoutMemory().Bytes(), errors.PhaseInspect, errors.KindMissingExport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compile(ctx, tt.bin)
			requireClass(t, err, tt.phase, tt.kind)
		})
	}
}

func TestCompileCache(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{CompiledCacheSize: 1})

	bin := enginetest.Default().Bytes()
	first, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if first != second {
		t.Error("identical binaries should share a compilation")
	}

	other := enginetest.Default().Log(1, "other").Bytes()
	if _, err := e.Compile(ctx, other); err != nil {
		t.Fatalf("Compile other: %v", err)
	}
	if e.Cached() != 1 {
		t.Errorf("Cached = %d, want 1", e.Cached())
	}
}

func TestEngineLogsAreForwarded(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	load(t, newEngine(t, Config{Logger: zap.New(core)}), enginetest.Default().Log(2, "engine warming up"))

	entries := logs.FilterMessage("engine warming up").All()
	if len(entries) != 1 || entries[0].Level != zap.WarnLevel {
		t.Errorf("engine log entries = %+v", entries)
	}
	if logs.FilterMessage("engine instantiated").Len() != 1 {
		t.Error("instantiation was not logged")
	}
}

func TestPackageLoggerFallback(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	load(t, newEngine(t, Config{}), enginetest.Default().Log(1, "from the package logger"))

	if logs.FilterMessage("from the package logger").Len() != 1 {
		t.Errorf("package logger entries = %+v", logs.All())
	}
}

func TestEnginesKeepOwnLoggers(t *testing.T) {
	coreA, logsA := observer.New(zap.DebugLevel)
	coreB, logsB := observer.New(zap.DebugLevel)
	engA := newEngine(t, Config{Logger: zap.New(coreA)})
	engB := newEngine(t, Config{Logger: zap.New(coreB)})

	load(t, engA, enginetest.Default().Log(1, "engine a"))
	load(t, engB, enginetest.Default().Log(1, "engine b"))

	if logsA.FilterMessage("engine a").Len() != 1 || logsA.FilterMessage("engine b").Len() != 0 {
		t.Errorf("engine a logs = %+v", logsA.All())
	}
	if logsB.FilterMessage("engine b").Len() != 1 || logsB.FilterMessage("engine a").Len() != 0 {
		t.Errorf("engine b logs = %+v", logsB.All())
	}
}

func TestEngineOutputCaptured(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	b := enginetest.Default().Write(1, "hello from stdout").Write(2, "trouble on stderr")

	load(t, newEngine(t, Config{Logger: zap.New(core)}), b)

	got := map[string]string{}
	for _, e := range logs.FilterMessage("engine output").All() {
		if e.Level != zap.DebugLevel {
			t.Errorf("engine output logged at %s", e.Level)
		}
		fields := e.ContextMap()
		got[fields["stream"].(string)] += fields["data"].(string)
	}
	if got["stdout"] != "hello from stdout" || got["stderr"] != "trouble on stderr" {
		t.Errorf("captured output = %q", got)
	}
}

func spinning() *enginetest.Builder {
	ns := enginetest.DefaultNamespace()
	ns.Ops[fhewasm.OpLt] = "luxfhe_spin"
	return enginetest.Default().Spin("luxfhe_spin").Publish(ns)
}

func TestDoneContextSkipsCall(t *testing.T) {
	inst := load(t, newEngine(t, Config{}), enginetest.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inst.Version(ctx)
	requireClass(t, err, errors.PhaseCall, errors.KindTimeout)

	if inst.Closed() {
		t.Fatal("a call refused up front must not close the instance")
	}
	v, err := inst.Version(context.Background())
	if err != nil || v != enginetest.Version {
		t.Errorf("Version after refused call = %q, %v", v, err)
	}
}

func TestAbortedCallClosesInstance(t *testing.T) {
	inst := load(t, newEngine(t, Config{}), spinning())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := inst.Lt(ctx, []byte{1}, []byte{2}, []byte("ek"))
	requireClass(t, err, errors.PhaseCall, errors.KindTimeout)

	if !inst.Closed() {
		t.Fatal("an aborted call leaves the instance closed")
	}
	_, err = inst.Version(context.Background())
	requireClass(t, err, errors.PhaseCall, errors.KindNotInitialized)
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	inst := load(t, newEngine(t, Config{}), enginetest.Default())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := inst.Decrypt(ctx, []byte("ct"), []byte("sk"))
			if err == nil && v != enginetest.Plaintext {
				err = errors.InvalidData(errors.PhaseDecode, "wrong plaintext")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})
	inst := load(t, e, enginetest.Default())

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, err := inst.GenerateKeys(ctx)
	requireClass(t, err, errors.PhaseCall, errors.KindNotInitialized)

	if err := e.Close(ctx); err != nil {
		t.Fatalf("engine Close: %v", err)
	}
	_, err = e.Compile(ctx, enginetest.Default().Bytes())
	requireClass(t, err, errors.PhaseCompile, errors.KindNotInitialized)
}
