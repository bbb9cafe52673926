package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/internal/enginetest"
)

// countingSource serves a fixture engine and counts fetches. While gate is
// non-nil fetches block until it is closed.
type countingSource struct {
	bin     []byte
	fetches atomic.Int32
	gate    chan struct{}
	fail    atomic.Bool
}

func (s *countingSource) Location() string { return "test" }

func (s *countingSource) Fetch(ctx context.Context) ([]byte, error) {
	s.fetches.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail.Load() {
		return nil, errors.NotFound(errors.PhaseResolve, "engine binary", "test")
	}
	return s.bin, nil
}

func class(phase errors.Phase, kind errors.Kind) func(error) bool {
	return func(err error) bool {
		return errors.Is(err, &errors.Error{Phase: phase, Kind: kind})
	}
}

func newLoader(t *testing.T, src *countingSource, opts ...Option) *Loader {
	t.Helper()
	l := New(append([]Option{WithSource(src)}, opts...)...)
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l
}

func TestGetBeforeInit(t *testing.T) {
	c := qt.New(t)
	l := New()

	_, err := l.Get()
	c.Assert(class(errors.PhaseCall, errors.KindNotInitialized)(err), qt.IsTrue, qt.Commentf("%v", err))
	c.Assert(l.IsInitialized(), qt.IsFalse)
	c.Assert(l.Close(context.Background()), qt.IsNil)
}

func TestInitAndOps(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &countingSource{bin: enginetest.Default().Bytes()}
	l := newLoader(t, src)

	fhe, err := l.Init(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(l.IsInitialized(), qt.IsTrue)

	got, err := l.Get()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, fhe)

	v, err := l.Version(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, enginetest.Version)

	keys, err := l.GenerateKeys(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(*keys, qt.DeepEquals, enginetest.Keys)

	ct, err := l.Encrypt(ctx, 7, 8, keys.PublicKey)
	c.Assert(err, qt.IsNil)
	c.Assert(ct, qt.DeepEquals, enginetest.Ciphertext)

	pt, err := l.Decrypt(ctx, ct, keys.PrivateKey)
	c.Assert(err, qt.IsNil)
	c.Assert(pt, qt.Equals, enginetest.Plaintext)

	_, err = l.Encrypt(ctx, 256, 8, keys.PublicKey)
	c.Assert(class(errors.PhaseEncode, errors.KindInvalidInput)(err), qt.IsTrue, qt.Commentf("%v", err))

	_, err = l.Eval(ctx, fhewasm.OpEq, ct, ct, keys.EvaluationKey)
	c.Assert(class(errors.PhaseCall, errors.KindEngine)(err), qt.IsTrue, qt.Commentf("%v", err))

	c.Assert(src.fetches.Load(), qt.Equals, int32(1))
}

func TestConcurrentInitSharesAttempt(t *testing.T) {
	c := qt.New(t)
	src := &countingSource{bin: enginetest.Default().Bytes(), gate: make(chan struct{})}
	l := newLoader(t, src)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]fhewasm.FHE, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.Init(context.Background())
		}()
	}

	// let every caller join before the binary arrives
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	for i := range callers {
		c.Assert(errs[i], qt.IsNil)
		c.Assert(results[i], qt.Equals, results[0])
	}
	c.Assert(src.fetches.Load(), qt.Equals, int32(1))
}

func TestInitFailureIsNotSticky(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &countingSource{bin: enginetest.Default().Bytes()}
	src.fail.Store(true)
	l := newLoader(t, src)

	_, err := l.Init(ctx)
	c.Assert(class(errors.PhaseResolve, errors.KindNotFound)(err), qt.IsTrue, qt.Commentf("%v", err))
	c.Assert(l.IsInitialized(), qt.IsFalse)

	src.fail.Store(false)
	_, err = l.Init(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(src.fetches.Load(), qt.Equals, int32(2))
}

func TestInitCallerTimeout(t *testing.T) {
	c := qt.New(t)
	src := &countingSource{bin: enginetest.Default().Bytes(), gate: make(chan struct{})}
	l := newLoader(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Init(ctx)
	c.Assert(class(errors.PhaseInstantiate, errors.KindTimeout)(err), qt.IsTrue, qt.Commentf("%v", err))

	// the shared attempt keeps going for other callers
	close(src.gate)
	_, err = l.Init(context.Background())
	c.Assert(err, qt.IsNil)
}

func TestCloseThenInit(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &countingSource{bin: enginetest.Default().Bytes()}
	l := newLoader(t, src)

	first, err := l.Init(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(l.Close(ctx), qt.IsNil)
	c.Assert(l.IsInitialized(), qt.IsFalse)

	_, err = first.Version(ctx)
	c.Assert(class(errors.PhaseCall, errors.KindNotInitialized)(err), qt.IsTrue, qt.Commentf("%v", err))

	second, err := l.Init(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.Not(qt.Equals), first)
	c.Assert(src.fetches.Load(), qt.Equals, int32(2))
}

func TestDoneContextKeepsEngine(t *testing.T) {
	c := qt.New(t)
	src := &countingSource{bin: enginetest.Default().Bytes()}
	l := newLoader(t, src)
	_, err := l.Init(context.Background())
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Version(ctx)
	c.Assert(class(errors.PhaseCall, errors.KindTimeout)(err), qt.IsTrue, qt.Commentf("%v", err))

	v, err := l.Version(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, enginetest.Version)
	c.Assert(l.IsInitialized(), qt.IsTrue)
	c.Assert(src.fetches.Load(), qt.Equals, int32(1))
}

func TestAbortedCallReloads(t *testing.T) {
	c := qt.New(t)
	ns := enginetest.DefaultNamespace()
	ns.Ops[fhewasm.OpLt] = "luxfhe_spin"
	src := &countingSource{bin: enginetest.Default().Spin("luxfhe_spin").Publish(ns).Bytes()}
	l := newLoader(t, src)
	_, err := l.Init(context.Background())
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Eval(ctx, fhewasm.OpLt, []byte{1}, []byte{2}, []byte("ek"))
	c.Assert(class(errors.PhaseCall, errors.KindTimeout)(err), qt.IsTrue, qt.Commentf("%v", err))

	// the runtime closed the instance under the aborted call
	c.Assert(l.IsInitialized(), qt.IsFalse)
	_, err = l.Get()
	c.Assert(class(errors.PhaseCall, errors.KindNotInitialized)(err), qt.IsTrue, qt.Commentf("%v", err))

	v, err := l.Version(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, enginetest.Version)
	keys, err := l.GenerateKeys(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(*keys, qt.DeepEquals, enginetest.Keys)
	c.Assert(l.IsInitialized(), qt.IsTrue)
	c.Assert(src.fetches.Load(), qt.Equals, int32(2))
}

func TestCloseDuringInit(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &countingSource{bin: enginetest.Default().Bytes(), gate: make(chan struct{})}
	l := newLoader(t, src)

	done := make(chan error, 1)
	go func() {
		_, err := l.Init(ctx)
		done <- err
	}()
	for src.fetches.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	c.Assert(l.Close(ctx), qt.IsNil)
	close(src.gate)
	err := <-done
	c.Assert(class(errors.PhaseInstantiate, errors.KindNotInitialized)(err), qt.IsTrue, qt.Commentf("%v", err))
	c.Assert(l.IsInitialized(), qt.IsFalse)

	_, err = l.Init(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(l.IsInitialized(), qt.IsTrue)
	c.Assert(src.fetches.Load(), qt.Equals, int32(2))
}

func TestLoadersKeepOwnLoggers(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	coreA, logsA := observer.New(zap.DebugLevel)
	coreB, logsB := observer.New(zap.DebugLevel)

	a := newLoader(t, &countingSource{bin: enginetest.Default().Log(1, "engine a").Bytes()}, WithLogger(zap.New(coreA)))
	b := newLoader(t, &countingSource{bin: enginetest.Default().Log(1, "engine b").Bytes()}, WithLogger(zap.New(coreB)))
	_, err := a.Init(ctx)
	c.Assert(err, qt.IsNil)
	_, err = b.Init(ctx)
	c.Assert(err, qt.IsNil)

	c.Assert(logsA.FilterMessage("engine a").Len(), qt.Equals, 1)
	c.Assert(logsA.FilterMessage("engine b").Len(), qt.Equals, 0)
	c.Assert(logsB.FilterMessage("engine b").Len(), qt.Equals, 1)
	c.Assert(logsB.FilterMessage("engine a").Len(), qt.Equals, 0)
}

func TestRequirePublish(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	bin := enginetest.New().
		Const(string(fhewasm.OpGenerateKeys), enginetest.Keys).
		Const(string(fhewasm.OpEncrypt), enginetest.Ciphertext).
		Const(string(fhewasm.OpDecrypt), enginetest.Plaintext).
		Bytes()

	_, err := newLoader(t, &countingSource{bin: bin}).Init(ctx)
	c.Assert(err, qt.IsNil)

	_, err = newLoader(t, &countingSource{bin: bin}, WithRequirePublish(true)).Init(ctx)
	c.Assert(class(errors.PhasePublish, errors.KindNotFound)(err), qt.IsTrue, qt.Commentf("%v", err))
}

func TestDigestMismatch(t *testing.T) {
	c := qt.New(t)
	src := &countingSource{bin: enginetest.Default().Bytes()}
	l := newLoader(t, src, WithDigest(fhewasm.Digest([]byte("other"))))

	_, err := l.Init(context.Background())
	c.Assert(class(errors.PhaseResolve, errors.KindIntegrity)(err), qt.IsTrue, qt.Commentf("%v", err))
}

func TestBuildOptions(t *testing.T) {
	c := qt.New(t)

	o := buildOptions([]Option{WithLocation("a.wasm"), WithPublishTimeout(time.Second)}, []Option{WithLocation("b.wasm")})
	c.Assert(o.Location, qt.Equals, "b.wasm")
	c.Assert(o.PublishTimeout, qt.Equals, time.Second)
	c.Assert(o.Logger, qt.IsNotNil)

	o = buildOptions(nil, []Option{WithPublishTimeout(-1)})
	c.Assert(o.PublishTimeout, qt.Equals, DefaultPublishTimeout)

	o = buildOptions([]Option{WithKeyEncoding("base64")}, nil)
	c.Assert(o.KeyEncoding, qt.Equals, "base64")

	bin := enginetest.Default().Bytes()
	src, err := buildOptions(nil, []Option{WithBytes(bin)}).source()
	c.Assert(err, qt.IsNil)
	c.Assert(src.Location(), qt.Equals, "memory")
}

func TestEvalRejectsUnaryOps(t *testing.T) {
	c := qt.New(t)
	for _, op := range []fhewasm.Op{fhewasm.OpEncrypt, fhewasm.Op("mul")} {
		_, err := Eval(context.Background(), nil, op, nil, nil, nil)
		c.Assert(class(errors.PhaseCall, errors.KindInvalidInput)(err), qt.IsTrue, qt.Commentf("%s: %v", op, err))
	}
}

func Example() {
	ctx := context.Background()
	l := New(WithLocation("wasm/luxfhe.wasm"))
	defer l.Close(ctx)

	if _, err := l.Init(ctx); err != nil {
		fmt.Println("engine unavailable:", err)
		return
	}
	keys, _ := l.GenerateKeys(ctx)
	ct, _ := l.Encrypt(ctx, 7, 8, keys.PublicKey)
	v, _ := l.Decrypt(ctx, ct, keys.PrivateKey)
	fmt.Println(v)
}
