package loader

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

// backend is an initialized engine on one platform.
type backend interface {
	fhewasm.FHE
	Close(ctx context.Context) error
	// Closed reports whether the engine stopped serving calls on its own.
	Closed() bool
}

// Loader owns at most one initialized engine.
type Loader struct {
	backend backend
	group   singleflight.Group
	base    []Option
	gen     uint64 // bumped by Close
	mu      sync.RWMutex
}

// New returns a loader whose Init applies opts before the per-call ones.
func New(opts ...Option) *Loader {
	return &Loader{base: opts}
}

// current returns the live backend. A backend that closed itself, as the
// runtime does when a call outlives its context, is dropped so the next
// Init loads the engine again.
func (l *Loader) current() backend {
	l.mu.RLock()
	b := l.backend
	l.mu.RUnlock()
	if b == nil || !b.Closed() {
		return b
	}

	l.mu.Lock()
	dropped := l.backend == b
	if dropped {
		l.backend = nil
	}
	l.mu.Unlock()
	if dropped {
		buildOptions(l.base, nil).Logger.Warn("engine closed after an aborted call; it is loaded again on next use")
		_ = b.Close(context.Background())
	}
	return nil
}

// Init initializes the engine unless it already is, and returns it.
// Concurrent callers wait on the same attempt; each stops waiting when its
// own context ends.
func (l *Loader) Init(ctx context.Context, opts ...Option) (fhewasm.FHE, error) {
	if b := l.current(); b != nil {
		return b, nil
	}

	ch := l.group.DoChan("init", func() (any, error) {
		if b := l.current(); b != nil {
			return b, nil
		}
		l.mu.RLock()
		gen := l.gen
		l.mu.RUnlock()

		o := buildOptions(l.base, opts)
		// the attempt outlives the caller that started it
		b, err := open(context.WithoutCancel(ctx), o)
		if err != nil {
			o.Logger.Warn("engine initialization failed", zap.Error(err))
			return nil, err
		}

		l.mu.Lock()
		if l.gen != gen {
			l.mu.Unlock()
			_ = b.Close(context.Background())
			return nil, errors.New(errors.PhaseInstantiate, errors.KindNotInitialized).
				Detail("loader closed during initialization").
				Build()
		}
		l.backend = b
		l.mu.Unlock()
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(backend), nil
	case <-ctx.Done():
		return nil, errors.Timeout(errors.PhaseInstantiate, "engine initialization", ctx.Err())
	}
}

// Get returns the initialized engine or a not_initialized error.
func (l *Loader) Get() (fhewasm.FHE, error) {
	if b := l.current(); b != nil {
		return b, nil
	}
	return nil, errors.NotInitialized(errors.PhaseCall, "FHE engine")
}

// IsInitialized reports whether Init has succeeded.
func (l *Loader) IsInitialized() bool {
	return l.current() != nil
}

// Close releases the engine. An attempt still in flight is discarded when
// it completes. A later Init loads the engine again.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	b := l.backend
	l.backend = nil
	l.gen++
	l.mu.Unlock()
	l.group.Forget("init")
	if b == nil {
		return nil
	}
	return b.Close(ctx)
}

// Version ensures initialization and returns the engine version.
func (l *Loader) Version(ctx context.Context) (string, error) {
	fhe, err := l.Init(ctx)
	if err != nil {
		return "", err
	}
	return fhe.Version(ctx)
}

// GenerateKeys ensures initialization and generates a key set.
func (l *Loader) GenerateKeys(ctx context.Context) (*fhewasm.Keys, error) {
	fhe, err := l.Init(ctx)
	if err != nil {
		return nil, err
	}
	return fhe.GenerateKeys(ctx)
}

// Encrypt ensures initialization and encrypts value.
func (l *Loader) Encrypt(ctx context.Context, value uint64, bitWidth uint8, publicKey []byte) ([]byte, error) {
	fhe, err := l.Init(ctx)
	if err != nil {
		return nil, err
	}
	return fhe.Encrypt(ctx, value, bitWidth, publicKey)
}

// Decrypt ensures initialization and decrypts ciphertext.
func (l *Loader) Decrypt(ctx context.Context, ciphertext, privateKey []byte) (uint64, error) {
	fhe, err := l.Init(ctx)
	if err != nil {
		return 0, err
	}
	return fhe.Decrypt(ctx, ciphertext, privateKey)
}

// Eval ensures initialization and applies a binary op.
func (l *Loader) Eval(ctx context.Context, op fhewasm.Op, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	fhe, err := l.Init(ctx)
	if err != nil {
		return nil, err
	}
	return Eval(ctx, fhe, op, lhs, rhs, evaluationKey)
}

// Eval applies a binary op by name.
func Eval(ctx context.Context, fhe fhewasm.FHE, op fhewasm.Op, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	switch op {
	case fhewasm.OpAdd:
		return fhe.Add(ctx, lhs, rhs, evaluationKey)
	case fhewasm.OpSub:
		return fhe.Sub(ctx, lhs, rhs, evaluationKey)
	case fhewasm.OpEq:
		return fhe.Eq(ctx, lhs, rhs, evaluationKey)
	case fhewasm.OpLt:
		return fhe.Lt(ctx, lhs, rhs, evaluationKey)
	}
	return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
		Op(string(op)).
		Detail("%s is not a binary op", op).
		Build()
}
