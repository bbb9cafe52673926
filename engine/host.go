package engine

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

type instanceKey struct{}

func withInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

func instanceFrom(ctx context.Context) *Instance {
	inst, _ := ctx.Value(instanceKey{}).(*Instance)
	return inst
}

// initHost instantiates WASI preview1 and the luxfhe host module once per
// runtime. Safe for concurrent calls.
func (e *Engine) initHost(ctx context.Context) error {
	if e.hostDone.Load() {
		return nil
	}

	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if e.hostDone.Load() {
		return nil
	}

	if e.runtime.Module(WASIModule) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindEngine, err, "instantiate WASI")
		}
	}

	if e.runtime.Module(HostModule) == nil {
		_, err := e.runtime.NewHostModuleBuilder(HostModule).
			NewFunctionBuilder().WithFunc(hostPublish).Export("publish").
			NewFunctionBuilder().WithFunc(hostFail).Export("fail").
			NewFunctionBuilder().WithFunc(hostLog).Export("log").
			Instantiate(ctx)
		if err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindEngine, err, "instantiate luxfhe host module")
		}
	}

	e.hostDone.Store(true)
	return nil
}

func readGuest(m api.Module, ptr, size uint32) ([]byte, error) {
	mem := m.Memory()
	if mem == nil {
		return nil, errors.MissingExport(errors.PhaseHost, "memory")
	}
	view, ok := mem.Read(ptr, size)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseHost, ptr, size, mem.Size())
	}
	out := make([]byte, size)
	copy(out, view)
	return out, nil
}

// hostPublish records the namespace the engine publishes from its entry
// point.
func hostPublish(ctx context.Context, m api.Module, ptr, size uint32) {
	inst := instanceFrom(ctx)
	if inst == nil {
		Logger().Warn("publish outside of instantiation ignored")
		return
	}
	data, err := readGuest(m, ptr, size)
	if err != nil {
		inst.publishErr = err
		return
	}
	var ns fhewasm.Namespace
	if err := cbor.Unmarshal(data, &ns); err != nil {
		inst.publishErr = errors.Wrap(errors.PhasePublish, errors.KindInvalidData, err, "decode namespace")
		return
	}
	if ns.Name == "" {
		ns.Name = fhewasm.DefaultNamespace
	}
	inst.published = &ns
	inst.log.Debug("namespace published", zap.String("name", ns.Name), zap.Int("ops", len(ns.Ops)))
}

// hostFail sets the error message of the in-flight call.
func hostFail(ctx context.Context, m api.Module, ptr, size uint32) {
	inst := instanceFrom(ctx)
	if inst == nil {
		return
	}
	msg := "engine reported failure"
	if data, err := readGuest(m, ptr, size); err == nil && len(data) > 0 {
		msg = string(data)
	}
	inst.failed = true
	inst.failMsg = msg
}

func hostLog(ctx context.Context, m api.Module, level, ptr, size uint32) {
	data, err := readGuest(m, ptr, size)
	if err != nil {
		return
	}
	l := Logger()
	if inst := instanceFrom(ctx); inst != nil {
		l = inst.log
	}
	l = l.With(zap.String("source", "engine"))
	switch level {
	case 0:
		l.Debug(string(data))
	case 1:
		l.Info(string(data))
	case 2:
		l.Warn(string(data))
	default:
		l.Error(string(data))
	}
}

func moduleConfig(log *zap.Logger) wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithStdout(streamWriter{log: log, stream: "stdout"}).
		WithStderr(streamWriter{log: log, stream: "stderr"}).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(randReader)
}
