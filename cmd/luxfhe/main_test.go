package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.uber.org/zap"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/config"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/internal/enginetest"
	"github.com/luxfhe/fhe-wasm/loader"
)

func newApp(c *qt.C, cf cliFlags) (*app, *bytes.Buffer) {
	dir := c.TempDir()
	bin := filepath.Join(dir, "luxfhe.wasm")
	c.Assert(os.WriteFile(bin, enginetest.Default().Bytes(), 0o600), qt.IsNil)

	cfg := &config.Config{}
	cfg.Wasm.Location = bin
	cfg.Keystore.Path = filepath.Join(dir, "keys")

	var out bytes.Buffer
	a := &app{cfg: cfg, flags: cf, log: zap.NewNop(), out: &out}
	c.Cleanup(a.close)
	return a, &out
}

func TestOps(t *testing.T) {
	c := qt.New(t)
	a, out := newApp(c, cliFlags{})
	c.Assert(a.run(context.Background(), []string{"ops"}), qt.IsNil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	c.Assert(lines, qt.HasLen, len(fhewasm.Ops))
	c.Assert(lines[2], qt.Equals, "encrypt: func(value: u64, bit-width: u8, public-key: list<u8>) -> list<u8> (required)")
}

func TestUnknownCommand(t *testing.T) {
	c := qt.New(t)
	a, _ := newApp(c, cliFlags{})
	for _, args := range [][]string{nil, {"mul"}, {"encrypt"}, {"eval", "add", "x"}} {
		err := a.run(context.Background(), args)
		c.Assert(errors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput}), qt.IsTrue, qt.Commentf("%v: %v", args, err))
	}
}

func TestInfo(t *testing.T) {
	c := qt.New(t)
	a, out := newApp(c, cliFlags{})
	c.Assert(a.run(context.Background(), []string{"info"}), qt.IsNil)

	c.Assert(out.String(), qt.Contains, "ABI:       wasip1-reactor")
	c.Assert(out.String(), qt.Contains, "Modules:   luxfhe (3 host functions)")
	c.Assert(out.String(), qt.Contains, "Version:   "+enginetest.Version)
	c.Assert(out.String(), qt.Contains, enginetest.SymGenerateKeys)
}

func TestKeygenAndEncrypt(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	keysFile := filepath.Join(c.TempDir(), "keys.json")

	a, _ := newApp(c, cliFlags{out: keysFile})
	c.Assert(a.run(ctx, []string{"keygen"}), qt.IsNil)

	data, err := os.ReadFile(keysFile)
	c.Assert(err, qt.IsNil)
	var keys fhewasm.Keys
	c.Assert(json.Unmarshal(data, &keys), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, enginetest.Keys)

	a, out := newApp(c, cliFlags{keysFile: keysFile, bits: 8})
	c.Assert(a.run(ctx, []string{"encrypt", "7"}), qt.IsNil)
	ct := strings.TrimSpace(out.String())
	c.Assert(ct, qt.Equals, base64.StdEncoding.EncodeToString(enginetest.Ciphertext))

	out.Reset()
	c.Assert(a.run(ctx, []string{"decrypt", ct}), qt.IsNil)
	c.Assert(strings.TrimSpace(out.String()), qt.Equals, "42")

	err = a.run(ctx, []string{"eval", "eq", ct, ct})
	c.Assert(err, qt.ErrorMatches, `.*eq is not supported by this engine.*`)

	err = a.run(ctx, []string{"encrypt", "256"})
	c.Assert(errors.Is(err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindInvalidInput}), qt.IsTrue, qt.Commentf("%v", err))
}

func TestKeygenStore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	a, _ := newApp(c, cliFlags{store: true})
	c.Assert(a.run(ctx, []string{"keygen"}), qt.IsNil)

	bundles, err := a.store.List()
	c.Assert(err, qt.IsNil)
	c.Assert(bundles, qt.HasLen, 1)
	c.Assert(bundles[0].EngineVersion, qt.Equals, enginetest.Version)

	a.flags = cliFlags{keyID: bundles[0].ID.String()}
	keys, err := a.keys()
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, enginetest.Keys)
}

func TestConvertArg(t *testing.T) {
	c := qt.New(t)
	enc, _ := fhewasm.SignatureOf(fhewasm.OpEncrypt)
	keys := &enginetest.Keys

	v, err := convertArg(" 42 ", enc.Params[0], nil)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, uint64(42))

	v, err = convertArg("8", enc.Params[1], nil)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, uint8(8))

	_, err = convertArg("300", enc.Params[1], nil)
	c.Assert(err, qt.IsNotNil)

	v, err = convertArg("", enc.Params[2], keys)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, keys.PublicKey)

	_, err = convertArg("", enc.Params[2], nil)
	c.Assert(err, qt.IsNotNil)

	v, err = convertArg(base64.StdEncoding.EncodeToString([]byte("k")), enc.Params[2], nil)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("k"))
}

func TestCallDispatch(t *testing.T) {
	c := qt.New(t)
	a, _ := newApp(c, cliFlags{})
	fhe, err := a.initEngine(context.Background())
	c.Assert(err, qt.IsNil)

	res := call(context.Background(), fhe, fhewasm.OpGenerateKeys, nil)
	c.Assert(res.err, qt.IsNil)
	c.Assert(res.keys, qt.IsNotNil)

	res = call(context.Background(), fhe, fhewasm.OpLt, []any{[]byte{1}, []byte{2}, []byte("ek")})
	c.Assert(res.err, qt.ErrorMatches, `.*lt is not supported by this engine.*`)
}

func TestLiveEngineReloads(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	ns := enginetest.DefaultNamespace()
	ns.Ops[fhewasm.OpLt] = "luxfhe_spin"
	l := loader.New(loader.WithBytes(enginetest.Default().Spin("luxfhe_spin").Publish(ns).Bytes()))
	c.Cleanup(func() { _ = l.Close(ctx) })

	var loaded atomic.Bool
	current := liveEngine(ctx, l, &loaded, zap.NewNop())
	_, err := current()
	c.Assert(errors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindNotInitialized}), qt.IsTrue)

	_, err = l.Init(ctx)
	c.Assert(err, qt.IsNil)
	loaded.Store(true)
	fhe, err := current()
	c.Assert(err, qt.IsNil)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = fhe.Lt(short, []byte{1}, []byte{2}, []byte("ek"))
	c.Assert(errors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindTimeout}), qt.IsTrue, qt.Commentf("%v", err))

	deadline := time.Now().Add(5 * time.Second)
	for {
		if fhe, err = current(); err == nil {
			break
		}
		c.Assert(time.Now().Before(deadline), qt.IsTrue, qt.Commentf("engine not reloaded: %v", err))
		time.Sleep(10 * time.Millisecond)
	}
	v, err := fhe.Version(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, enginetest.Version)
}
