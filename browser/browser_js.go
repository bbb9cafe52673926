//go:build js && wasm

package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall/js"
	"time"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

// Namespace is the object the engine published on the global object.
type Namespace struct {
	value   js.Value
	runtime js.Value // the Go instance running the engine; undefined if found published
	name    string

	autoKeys   bool
	stringKeys atomic.Bool
}

var _ fhewasm.FHE = (*Namespace)(nil)

func newNamespace(v, runtime js.Value, o Options) *Namespace {
	n := &Namespace{value: v, runtime: runtime, name: o.Name, autoKeys: o.KeyEncoding == KeyEncodingAuto}
	n.stringKeys.Store(o.KeyEncoding == KeyEncodingBase64)
	return n
}

// Load instantiates the engine and waits for its namespace.
func Load(ctx context.Context, o Options) (*Namespace, error) {
	o = o.withDefaults()
	switch o.KeyEncoding {
	case KeyEncodingAuto, KeyEncodingBytes, KeyEncodingBase64:
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("key encoding %q (want bytes or base64)", o.KeyEncoding))
	}
	global := js.Global()

	if v := global.Get(o.Name); published(v) {
		return newNamespace(v, js.Undefined(), o), nil
	}

	if global.Get("Go").IsUndefined() {
		if err := loadScript(ctx, o.ExecURL); err != nil {
			return nil, err
		}
		if global.Get("Go").IsUndefined() {
			return nil, errors.MissingExport(errors.PhaseResolve, "Go (from "+o.ExecURL+")")
		}
	}
	goRuntime := global.Get("Go").New()

	buf, err := engineBytes(ctx, o)
	if err != nil {
		return nil, err
	}
	wa := global.Get("WebAssembly")
	mod, err := await(ctx, wa.Call("compile", buf))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "compile engine")
	}
	inst, err := await(ctx, wa.Call("instantiate", mod, goRuntime.Get("importObject")))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	// run resolves only when the engine exits
	goRuntime.Call("run", inst)

	v, err := poll(ctx, o)
	if err != nil {
		return nil, err
	}
	return newNamespace(v, goRuntime, o), nil
}

// typeBigInt stands for BigInt values, which js.Value.Type cannot classify.
const typeBigInt js.Type = -1

var objectTag = sync.OnceValue(func() js.Value {
	return js.Global().Get("Object").Get("prototype").Get("toString")
})

// typeOf is js.Value.Type extended to BigInt. Type panics on BigInt, and so
// do Get, Truthy and String, so values coming from the engine are
// classified here first.
func typeOf(v js.Value) js.Type {
	if v.IsUndefined() {
		return js.TypeUndefined
	}
	if v.IsNull() {
		return js.TypeNull
	}
	if objectTag().Call("call", v).String() == "[object BigInt]" {
		return typeBigInt
	}
	return v.Type()
}

func typeName(v js.Value) string {
	if t := typeOf(v); t != typeBigInt {
		return t.String()
	}
	return "bigint"
}

// stringOf converts any value with the JS String function.
func stringOf(v js.Value) string {
	return js.Global().Get("String").Invoke(v).String()
}

func published(v js.Value) bool {
	return typeOf(v) == js.TypeObject && typeOf(v.Get(string(fhewasm.OpGenerateKeys))) == js.TypeFunction
}

func poll(ctx context.Context, o Options) (js.Value, error) {
	timeout := time.NewTimer(o.Timeout)
	defer timeout.Stop()
	tick := time.NewTicker(o.PollInterval)
	defer tick.Stop()

	for {
		if v := js.Global().Get(o.Name); published(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return js.Undefined(), errors.Timeout(errors.PhasePublish, "namespace "+o.Name, ctx.Err())
		case <-timeout.C:
			return js.Undefined(), errors.Timeout(errors.PhasePublish, "namespace "+o.Name, nil)
		case <-tick.C:
		}
	}
}

func engineBytes(ctx context.Context, o Options) (js.Value, error) {
	if len(o.Bytes) > 0 {
		return toUint8Array(o.Bytes), nil
	}
	res, err := await(ctx, js.Global().Call("fetch", o.URL))
	if err != nil {
		return js.Undefined(), errors.Load("fetch "+o.URL, err)
	}
	if !res.Get("ok").Bool() {
		status := res.Get("status").Int()
		if status == 404 {
			return js.Undefined(), errors.NotFound(errors.PhaseResolve, "engine binary", o.URL)
		}
		return js.Undefined(), errors.New(errors.PhaseResolve, errors.KindInvalidData).
			Value(status).
			Detail("fetch %s: status code %d", o.URL, status).
			Build()
	}
	buf, err := await(ctx, res.Call("arrayBuffer"))
	if err != nil {
		return js.Undefined(), errors.Load("read "+o.URL, err)
	}
	return buf, nil
}

func loadScript(ctx context.Context, url string) error {
	global := js.Global()
	doc := global.Get("document")
	if doc.IsUndefined() {
		if importScripts := global.Get("importScripts"); typeOf(importScripts) == js.TypeFunction {
			return catch(func() { importScripts.Invoke(url) }, errors.PhaseResolve, "load "+url)
		}
		return errors.Unsupported(errors.PhaseResolve, "cannot load "+url+" without a document or importScripts")
	}

	done := make(chan error, 1)
	script := doc.Call("createElement", "script")
	var onload, onerror js.Func
	onload = js.FuncOf(func(js.Value, []js.Value) any {
		done <- nil
		return nil
	})
	onerror = js.FuncOf(func(js.Value, []js.Value) any {
		done <- errors.NotFound(errors.PhaseResolve, "script", url)
		return nil
	})
	defer onload.Release()
	defer onerror.Release()

	script.Set("src", url)
	script.Set("onload", onload)
	script.Set("onerror", onerror)
	doc.Get("head").Call("appendChild", script)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Timeout(errors.PhaseResolve, url, ctx.Err())
	}
}

// await blocks until a promise settles. Non-promise values are returned
// as is.
func await(ctx context.Context, p js.Value) (js.Value, error) {
	if typeOf(p) != js.TypeObject || typeOf(p.Get("then")) != js.TypeFunction {
		return p, nil
	}

	type result struct {
		v   js.Value
		err error
	}
	done := make(chan result, 1)
	resolve := js.FuncOf(func(_ js.Value, args []js.Value) any {
		v := js.Undefined()
		if len(args) > 0 {
			v = args[0]
		}
		done <- result{v: v}
		return nil
	})
	reject := js.FuncOf(func(_ js.Value, args []js.Value) any {
		msg := "promise rejected"
		if len(args) > 0 {
			msg = jsErrorString(args[0])
		}
		done <- result{err: fmt.Errorf("%s", msg)}
		return nil
	})
	defer resolve.Release()
	defer reject.Release()

	p.Call("then", resolve, reject)
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}

func jsErrorString(v js.Value) string {
	if typeOf(v) == js.TypeObject && typeOf(v.Get("message")) == js.TypeString {
		return v.Get("message").String()
	}
	return stringOf(v)
}

func catch(fn func(), phase errors.Phase, what string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// js.Error.Error reads .message, which panics on thrown primitives
			if jsErr, ok := r.(js.Error); ok {
				err = errors.New(phase, errors.KindEngine).
					Detail("%s: %s", what, jsErrorString(jsErr.Value)).
					Build()
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

// Name returns the global the namespace was published under.
func (n *Namespace) Name() string {
	return n.name
}

// Close is a no-op: a started Go program cannot be unloaded.
func (n *Namespace) Close(context.Context) error {
	return nil
}

// Closed reports whether the Go program running the engine has exited.
func (n *Namespace) Closed() bool {
	if typeOf(n.runtime) != js.TypeObject {
		return false
	}
	return typeOf(n.runtime.Get("exited")) == js.TypeBoolean && n.runtime.Get("exited").Bool()
}

func (n *Namespace) call(ctx context.Context, op fhewasm.Op, args ...any) (js.Value, error) {
	fn := n.value.Get(string(op))
	if typeOf(fn) != js.TypeFunction {
		return js.Undefined(), errors.New(errors.PhaseCall, errors.KindUnsupported).
			Op(string(op)).
			Detail("engine does not publish %s", op).
			Build()
	}

	var res js.Value
	if err := catch(func() { res = fn.Invoke(args...) }, errors.PhaseCall, string(op)); err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.Op = string(op)
		}
		return js.Undefined(), err
	}
	res, err := await(ctx, res)
	if err != nil {
		return js.Undefined(), errors.Engine(string(op), err.Error())
	}
	return unwrap(op, res)
}

// unwrap handles {data, error} result envelopes.
func unwrap(op fhewasm.Op, v js.Value) (js.Value, error) {
	if typeOf(v) != js.TypeObject || v.InstanceOf(js.Global().Get("Uint8Array")) {
		return v, nil
	}
	if e := v.Get("error"); js.Global().Get("Boolean").Invoke(e).Bool() {
		return js.Undefined(), errors.Engine(string(op), jsErrorString(e))
	}
	if d := v.Get("data"); !d.IsUndefined() {
		return d, nil
	}
	return v, nil
}

func toUint8Array(b []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(b))
	js.CopyBytesToJS(arr, b)
	return arr
}

// bytesArg encodes b the way the engine takes its keys.
func (n *Namespace) bytesArg(b []byte) any {
	if n.stringKeys.Load() {
		return base64.StdEncoding.EncodeToString(b)
	}
	return toUint8Array(b)
}

func toBytes(op fhewasm.Op, field string, v js.Value) ([]byte, error) {
	switch {
	case v.IsUndefined() || v.IsNull():
		return nil, nil
	case typeOf(v) == js.TypeString:
		b, err := base64.StdEncoding.DecodeString(v.String())
		if err != nil {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Op(string(op)).Cause(err).Detail("%s is not base64", field).Build()
		}
		return b, nil
	case v.InstanceOf(js.Global().Get("Uint8Array")):
		b := make([]byte, v.Get("length").Int())
		js.CopyBytesToGo(b, v)
		return b, nil
	case v.InstanceOf(js.Global().Get("ArrayBuffer")):
		return toBytes(op, field, js.Global().Get("Uint8Array").New(v))
	}
	return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Op(string(op)).
		Detail("%s: want Uint8Array or base64 string, got %s", field, typeName(v)).
		Build()
}

func firstDefined(v js.Value, names ...string) js.Value {
	for _, name := range names {
		if f := v.Get(name); !f.IsUndefined() && !f.IsNull() {
			return f
		}
	}
	return js.Undefined()
}

// Version returns the engine version.
func (n *Namespace) Version(ctx context.Context) (string, error) {
	v, err := n.call(ctx, fhewasm.OpVersion)
	if err != nil {
		return "", err
	}
	return stringOf(v), nil
}

// GenerateKeys asks the engine for a key set.
func (n *Namespace) GenerateKeys(ctx context.Context) (*fhewasm.Keys, error) {
	v, err := n.call(ctx, fhewasm.OpGenerateKeys)
	if err != nil {
		return nil, err
	}
	if typeOf(v) != js.TypeObject {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Op(string(fhewasm.OpGenerateKeys)).
			Detail("want key object, got %s", typeName(v)).
			Build()
	}

	pk := firstDefined(v, "publicKey")
	if n.autoKeys {
		n.stringKeys.Store(typeOf(pk) == js.TypeString)
	}

	var keys fhewasm.Keys
	if keys.PublicKey, err = toBytes(fhewasm.OpGenerateKeys, "publicKey", pk); err != nil {
		return nil, err
	}
	if keys.PrivateKey, err = toBytes(fhewasm.OpGenerateKeys, "privateKey", firstDefined(v, "privateKey", "secretKey")); err != nil {
		return nil, err
	}
	if keys.EvaluationKey, err = toBytes(fhewasm.OpGenerateKeys, "evaluationKey", firstDefined(v, "evaluationKey", "bootstrapKey", "serverKey")); err != nil {
		return nil, err
	}
	return &keys, nil
}

func numberArg(v uint64) any {
	if v <= 1<<53 {
		return float64(v)
	}
	return js.Global().Get("BigInt").Invoke(strconv.FormatUint(v, 10))
}

// Encrypt encrypts value. Engines whose encrypt takes two parameters
// receive (value, publicKey).
func (n *Namespace) Encrypt(ctx context.Context, value uint64, bitWidth uint8, publicKey []byte) ([]byte, error) {
	if bitWidth == 0 {
		bitWidth = fhewasm.DefaultBitWidth
	}
	if err := fhewasm.CheckPlaintext(value, bitWidth); err != nil {
		return nil, err
	}

	args := []any{numberArg(value), int(bitWidth), n.bytesArg(publicKey)}
	if n.value.Get(string(fhewasm.OpEncrypt)).Get("length").Int() == 2 {
		args = []any{numberArg(value), n.bytesArg(publicKey)}
	}
	v, err := n.call(ctx, fhewasm.OpEncrypt, args...)
	if err != nil {
		return nil, err
	}
	return toBytes(fhewasm.OpEncrypt, "ciphertext", v)
}

// Decrypt recovers the plaintext.
func (n *Namespace) Decrypt(ctx context.Context, ciphertext, privateKey []byte) (uint64, error) {
	v, err := n.call(ctx, fhewasm.OpDecrypt, n.bytesArg(ciphertext), n.bytesArg(privateKey))
	if err != nil {
		return 0, err
	}

	switch typeOf(v) {
	case js.TypeNumber:
		f := v.Float()
		if f < 0 || f > math.MaxUint64 || f != math.Trunc(f) {
			return 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Op(string(fhewasm.OpDecrypt)).Value(f).Detail("plaintext %v is not an unsigned integer", f).Build()
		}
		return uint64(f), nil
	case js.TypeBoolean:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case js.TypeString, typeBigInt:
		s := stringOf(v)
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Op(string(fhewasm.OpDecrypt)).Cause(err).Detail("plaintext %q", s).Build()
		}
		return u, nil
	}
	return 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Op(string(fhewasm.OpDecrypt)).
		Detail("want number, got %s", typeName(v)).
		Build()
}

func (n *Namespace) binary(ctx context.Context, op fhewasm.Op, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	v, err := n.call(ctx, op, n.bytesArg(lhs), n.bytesArg(rhs), n.bytesArg(evaluationKey))
	if err != nil {
		return nil, err
	}
	return toBytes(op, "ciphertext", v)
}

// Add returns the encrypted sum.
func (n *Namespace) Add(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return n.binary(ctx, fhewasm.OpAdd, lhs, rhs, evaluationKey)
}

// Sub returns the encrypted difference.
func (n *Namespace) Sub(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return n.binary(ctx, fhewasm.OpSub, lhs, rhs, evaluationKey)
}

// Eq returns an encrypted equality bit.
func (n *Namespace) Eq(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return n.binary(ctx, fhewasm.OpEq, lhs, rhs, evaluationKey)
}

// Lt returns an encrypted less-than bit.
func (n *Namespace) Lt(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return n.binary(ctx, fhewasm.OpLt, lhs, rhs, evaluationKey)
}
