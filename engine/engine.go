package engine

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/luxfhe/fhe-wasm/errors"
)

var randReader = rand.Reader

// DefaultCompiledCacheSize is the number of compiled engines kept in memory.
const DefaultCompiledCacheSize = 8

// Config holds configuration for engine creation
type Config struct {
	// CacheDir enables wazero's on-disk compilation cache.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CompiledCacheSize bounds the in-memory cache of compiled modules keyed
	// by binary digest. 0 means DefaultCompiledCacheSize.
	CompiledCacheSize int

	// RequirePublish fails instantiation when the entry point does not
	// publish a namespace instead of falling back to implicit exports.
	RequirePublish bool

	// Logger receives this engine's logs and guest output. nil uses the
	// package logger at the time New is called.
	Logger *zap.Logger
}

// Engine hosts FHE engine binaries on a wazero runtime.
type Engine struct {
	runtime  wazero.Runtime
	disk     wazero.CompilationCache
	compiled *lru.Cache[string, *Module]
	log      *zap.Logger
	cfg      Config

	compileMu sync.Mutex
	hostMu    sync.Mutex
	hostDone  atomic.Bool
	closed    atomic.Bool
}

// Module is a compiled engine binary.
type Module struct {
	compiled wazero.CompiledModule
	manifest *Manifest
}

// Manifest returns what inspection found in the binary.
func (m *Module) Manifest() *Manifest {
	return m.manifest
}

// New creates an engine. The context bounds runtime creation only.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &Engine{cfg: cfg, log: cfg.Logger}
	if e.log == nil {
		e.log = Logger()
	}
	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open compilation cache "+cfg.CacheDir)
		}
		e.disk = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	size := cfg.CompiledCacheSize
	if size <= 0 {
		size = DefaultCompiledCacheSize
	}
	compiled, err := lru.NewWithEvict(size, func(digest string, m *Module) {
		e.log.Debug("compiled engine evicted", zap.String("digest", digest))
		_ = m.compiled.Close(context.Background())
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "create compiled module cache")
	}
	e.compiled = compiled

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// Compile inspects bin and compiles it, reusing an earlier compilation of
// the same binary.
func (e *Engine) Compile(ctx context.Context, bin []byte) (*Module, error) {
	if e.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseCompile, "engine")
	}

	manifest, err := Inspect(bin)
	if err != nil {
		return nil, err
	}
	if err := manifest.Check(); err != nil {
		return nil, err
	}

	e.compileMu.Lock()
	defer e.compileMu.Unlock()

	if m, ok := e.compiled.Get(manifest.Digest); ok {
		return m, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "compile engine")
	}
	m := &Module{compiled: compiled, manifest: manifest}
	e.compiled.Add(manifest.Digest, m)

	e.log.Debug("engine compiled",
		zap.String("digest", manifest.Digest),
		zap.Stringer("abi", manifest.ABI),
		zap.Int("exports", len(manifest.Exports)))
	return m, nil
}

// Load compiles and instantiates bin.
func (e *Engine) Load(ctx context.Context, bin []byte) (*Instance, error) {
	m, err := e.Compile(ctx, bin)
	if err != nil {
		return nil, err
	}
	return e.Instantiate(ctx, m)
}

// Cached reports how many compiled modules are held in memory.
func (e *Engine) Cached() int {
	return e.compiled.Len()
}

// Close releases the runtime, all instances and cached compilations.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.compiled.Purge()
	err := e.runtime.Close(ctx)
	if e.disk != nil {
		if cerr := e.disk.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
