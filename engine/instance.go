package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

// Instance is an instantiated engine with its namespace bound to exports.
// Calls are serialized: a wasm instance runs one call at a time.
type Instance struct {
	mod      api.Module
	malloc   api.Function
	free     api.Function
	fns      map[fhewasm.Op]api.Function
	ns       *fhewasm.Namespace
	manifest *Manifest
	log      *zap.Logger

	// set by host functions while the instance's context is active
	published  *fhewasm.Namespace
	publishErr error
	failMsg    string
	failed     bool

	mu     sync.Mutex
	closed atomic.Bool
}

// Instantiate creates an instance of m, runs its entry point and binds the
// namespace it publishes.
func (e *Engine) Instantiate(ctx context.Context, m *Module) (*Instance, error) {
	if e.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseInstantiate, "engine")
	}
	if err := e.initHost(ctx); err != nil {
		return nil, err
	}

	inst := &Instance{manifest: m.manifest, log: e.log}
	ictx := withInstance(ctx, inst)

	mod, err := e.runtime.InstantiateModule(ictx, m.compiled, moduleConfig(e.log))
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	inst.mod = mod

	if err := inst.runEntry(ictx); err != nil {
		_ = mod.Close(context.Background())
		return nil, err
	}
	if err := inst.bind(e.cfg.RequirePublish); err != nil {
		_ = mod.Close(context.Background())
		return nil, err
	}

	inst.log.Info("engine instantiated",
		zap.String("namespace", inst.ns.Name),
		zap.String("version", inst.ns.Version),
		zap.Int("ops", len(inst.fns)))
	return inst, nil
}

func (i *Instance) runEntry(ctx context.Context) error {
	entry := i.manifest.Entry
	if entry == "" {
		return nil
	}
	fn := i.mod.ExportedFunction(entry)
	if fn == nil {
		return errors.MissingExport(errors.PhaseEntry, entry)
	}

	_, err := fn.Call(ctx)
	if err == nil && !i.mod.IsClosed() {
		return nil
	}
	if err == nil {
		return errExited()
	}
	if ctx.Err() != nil {
		return errors.Timeout(errors.PhaseEntry, entry, err)
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		if exit.ExitCode() != 0 {
			return errors.New(errors.PhaseEntry, errors.KindEngine).
				Op(entry).
				Cause(err).
				Detail("entry point exited with code %d", exit.ExitCode()).
				Build()
		}
		if i.mod.IsClosed() {
			return errExited()
		}
		return nil
	}
	return errors.Wrap(errors.PhaseEntry, errors.KindEngine, err, "run "+entry)
}

func errExited() error {
	return errors.Unsupported(errors.PhaseEntry,
		"engine exited from its entry point; build it as a reactor (-buildmode=c-shared)")
}

// bind resolves the namespace and looks up the exports serving it.
func (i *Instance) bind(requirePublish bool) error {
	if i.publishErr != nil {
		return i.publishErr
	}

	ns := i.published
	if ns == nil {
		if requirePublish {
			return errors.New(errors.PhasePublish, errors.KindNotFound).
				Detail("engine did not publish namespace %q", fhewasm.DefaultNamespace).
				Build()
		}
		ns = &fhewasm.Namespace{Name: fhewasm.DefaultNamespace, Ops: i.manifest.Implicit}
		i.log.Debug("no namespace published, using exports", zap.Int("ops", len(ns.Ops)))
	}

	i.malloc = i.mod.ExportedFunction("malloc")
	i.free = i.mod.ExportedFunction("free")
	if i.malloc == nil || i.free == nil {
		return errors.MissingExport(errors.PhaseInstantiate, "malloc")
	}

	i.fns = make(map[fhewasm.Op]api.Function, len(ns.Ops))
	bound := make(map[fhewasm.Op]string, len(ns.Ops))
	for op, sym := range ns.Ops {
		if !op.Known() {
			i.log.Debug("ignoring unknown op", zap.String("op", string(op)))
			continue
		}
		fn := i.mod.ExportedFunction(sym)
		if fn == nil || !isOpFunc(fn.Definition()) {
			i.log.Warn("published op has no matching export",
				zap.String("op", string(op)), zap.String("symbol", sym))
			continue
		}
		i.fns[op] = fn
		bound[op] = sym
	}

	i.ns = &fhewasm.Namespace{Name: ns.Name, Version: ns.Version, Ops: bound}
	if missing := i.ns.Missing(); len(missing) > 0 {
		sym := string(missing[0])
		if s, ok := ns.Symbol(missing[0]); ok {
			sym = s
		}
		return errors.New(errors.PhaseInstantiate, errors.KindMissingExport).
			Op(string(missing[0])).
			Value(missing).
			Detail("export %q not found (missing ops: %v)", sym, missing).
			Build()
	}
	return nil
}

func isOpFunc(def api.FunctionDefinition) bool {
	p, r := def.ParamTypes(), def.ResultTypes()
	return len(p) == 2 && p[0] == api.ValueTypeI32 && p[1] == api.ValueTypeI32 &&
		len(r) == 1 && r[0] == api.ValueTypeI64
}

// Namespace returns the bound namespace.
func (i *Instance) Namespace() *fhewasm.Namespace {
	return i.ns
}

// Manifest returns what inspection found in the binary.
func (i *Instance) Manifest() *Manifest {
	return i.manifest
}

// Closed reports whether the instance can no longer serve calls. The
// runtime closes an instance whose call outlives its context.
func (i *Instance) Closed() bool {
	return i.closed.Load() || i.mod.IsClosed()
}

// Call forwards op with args and decodes the engine's result into out.
// out may be nil to discard the result. A context that is already done
// fails the call without entering the engine; one that ends mid-call
// aborts it and closes the instance.
func (i *Instance) Call(ctx context.Context, op fhewasm.Op, out any, args ...any) error {
	sig, ok := fhewasm.SignatureOf(op)
	if !ok {
		return errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Op(string(op)).
			Detail("unknown op").
			Build()
	}
	if err := sig.Check(args...); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return withOp(errors.Timeout(errors.PhaseCall, string(op), err), op)
	}
	if i.Closed() {
		return errors.New(errors.PhaseCall, errors.KindNotInitialized).
			Op(string(op)).
			Detail("engine instance closed").
			Build()
	}
	fn, ok := i.fns[op]
	if !ok {
		return errors.New(errors.PhaseCall, errors.KindUnsupported).
			Op(string(op)).
			Detail("engine does not publish %s", op).
			Build()
	}

	if args == nil {
		args = []any{}
	}
	payload, err := cbor.Marshal(args)
	if err != nil {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).Op(string(op)).Cause(err).Detail("encode arguments").Build()
	}

	ctx = withInstance(ctx, i)
	argPtr, err := i.write(ctx, payload)
	if err != nil {
		return withOp(err, op)
	}
	defer i.release(ctx, argPtr, uint32(len(payload)))

	i.failed, i.failMsg = false, ""
	results, err := fn.Call(ctx, uint64(argPtr), uint64(len(payload)))
	if err != nil {
		if ctx.Err() != nil {
			return withOp(errors.Timeout(errors.PhaseCall, string(op), err), op)
		}
		return errors.New(errors.PhaseCall, errors.KindEngine).Op(string(op)).Cause(err).Detail("engine trapped").Build()
	}
	if i.failed {
		return errors.Engine(string(op), i.failMsg)
	}

	packed := results[0]
	if packed == 0 {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).Op(string(op)).Detail("engine returned no result").Build()
	}
	resPtr, resLen := uint32(packed>>32), uint32(packed)
	data, err := readGuest(i.mod, resPtr, resLen)
	if err != nil {
		return withOp(err, op)
	}
	if resPtr != argPtr {
		i.release(ctx, resPtr, resLen)
	}

	if out == nil {
		return nil
	}
	if err := cbor.Unmarshal(data, out); err != nil {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Op(string(op)).
			Cause(err).
			Detail("decode %s result into %T", op, out).
			Build()
	}
	return nil
}

func (i *Instance) write(ctx context.Context, data []byte) (uint32, error) {
	res, err := i.malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEncode, errors.KindEngine, err, "malloc")
	}
	ptr := uint32(res[0])
	if len(data) == 0 {
		return ptr, nil
	}
	mem := i.mod.Memory()
	if !mem.Write(ptr, data) {
		return 0, errors.OutOfBounds(errors.PhaseEncode, ptr, uint32(len(data)), mem.Size())
	}
	return ptr, nil
}

func (i *Instance) release(ctx context.Context, ptr, size uint32) {
	if _, err := i.free.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		i.log.Debug("free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

func withOp(err error, op fhewasm.Op) error {
	var e *errors.Error
	if errors.As(err, &e) && e.Op == "" {
		e.Op = string(op)
	}
	return err
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.mod.Close(ctx)
}

func (i *Instance) String() string {
	return fmt.Sprintf("engine %s (%s, %d ops)", i.ns.Name, i.manifest.ABI, len(i.fns))
}
