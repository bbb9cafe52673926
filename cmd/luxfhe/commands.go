package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/config"
	"github.com/luxfhe/fhe-wasm/engine"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/keystore"
	"github.com/luxfhe/fhe-wasm/loader"
	"github.com/luxfhe/fhe-wasm/server"
	"github.com/luxfhe/fhe-wasm/source"
)

type app struct {
	cfg    *config.Config
	flags  cliFlags
	log    *zap.Logger
	out    io.Writer
	loader *loader.Loader
	store  *keystore.Store
}

func (a *app) close() {
	ctx := context.Background()
	if a.loader != nil {
		_ = a.loader.Close(ctx)
		a.loader = nil
	}
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "missing command (try --help)")
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "info":
		return a.info(ctx)
	case "ops":
		return a.ops()
	case "keygen":
		return a.keygen(ctx)
	case "encrypt":
		return a.encrypt(ctx, args)
	case "decrypt":
		return a.decrypt(ctx, args)
	case "eval":
		return a.eval(ctx, args)
	case "serve":
		return a.serve(ctx)
	}
	return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown command %q", cmd))
}

func (a *app) sourceOptions() source.Options {
	return source.Options{S3: a.cfg.S3}
}

// fetchBinary reads the configured engine binary.
func (a *app) fetchBinary(ctx context.Context) ([]byte, source.Source, error) {
	src, err := source.Resolve(a.cfg.Wasm.Location, a.sourceOptions())
	if err != nil {
		return nil, nil, err
	}
	bin, err := source.Load(ctx, src, a.cfg.Wasm.Digest)
	if err != nil {
		return nil, nil, err
	}
	return bin, src, nil
}

func (a *app) newLoader(extra ...loader.Option) *loader.Loader {
	opts := append(a.cfg.LoaderOptions(), loader.WithLogger(a.log))
	a.loader = loader.New(append(opts, extra...)...)
	return a.loader
}

func (a *app) initEngine(ctx context.Context) (fhewasm.FHE, error) {
	if a.loader == nil {
		a.newLoader()
	}
	return a.loader.Init(ctx)
}

func (a *app) openStore() (*keystore.Store, error) {
	if a.store == nil {
		s, err := keystore.Open(a.cfg.Keystore.Path)
		if err != nil {
			return nil, err
		}
		a.store = s
	}
	return a.store, nil
}

// keys loads the key set named by --keys or --key-id.
func (a *app) keys() (fhewasm.Keys, error) {
	switch {
	case a.flags.keysFile != "":
		data, err := os.ReadFile(a.flags.keysFile)
		if err != nil {
			return fhewasm.Keys{}, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read keys")
		}
		var k fhewasm.Keys
		if err := json.Unmarshal(data, &k); err != nil {
			return fhewasm.Keys{}, errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "parse "+a.flags.keysFile)
		}
		return k, nil
	case a.flags.keyID != "":
		id, err := uuid.Parse(a.flags.keyID)
		if err != nil {
			return fhewasm.Keys{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "key id")
		}
		s, err := a.openStore()
		if err != nil {
			return fhewasm.Keys{}, err
		}
		b, err := s.Get(id)
		if err != nil {
			return fhewasm.Keys{}, err
		}
		return b.Keys, nil
	}
	return fhewasm.Keys{}, errors.InvalidInput(errors.PhaseConfig, "no keys given: use --keys or --key-id")
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	if f, ok := a.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func (a *app) info(ctx context.Context) error {
	bin, src, err := a.fetchBinary(ctx)
	if err != nil {
		return err
	}
	m, err := engine.Inspect(bin)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Engine:    %s\n", src.Location())
	fmt.Fprintf(a.out, "Digest:    %s\n", m.Digest)
	fmt.Fprintf(a.out, "Size:      %d bytes\n", len(bin))
	fmt.Fprintf(a.out, "ABI:       %s (entry %s)\n", m.ABI, orNone(m.Entry))
	fmt.Fprintf(a.out, "Modules:   %s (%d host functions)\n", orNone(strings.Join(m.Modules, ", ")), m.HostFuncs)
	fmt.Fprintf(a.out, "Imports:   %s\n", orNone(strings.Join(m.Imports, ", ")))
	fmt.Fprintf(a.out, "Sections:  %s\n", orNone(strings.Join(m.Sections, ", ")))
	if m.GoToolchain {
		fmt.Fprintf(a.out, "Toolchain: go\n")
	}
	fmt.Fprintf(a.out, "Publishes: %v\n", m.Publishes)
	if err := m.Check(); err != nil {
		fmt.Fprintf(a.out, "Status:    unusable: %v\n", err)
		return nil
	}

	fhe, err := a.newLoader(loader.WithBytes(bin)).Init(ctx)
	if err != nil {
		return err
	}
	version, err := fhe.Version(ctx)
	if err != nil {
		version = "unknown"
	}
	fmt.Fprintf(a.out, "Version:   %s\n", version)
	fmt.Fprintf(a.out, "\nOperations:\n")
	var ns *fhewasm.Namespace
	if n, ok := fhe.(interface{ Namespace() *fhewasm.Namespace }); ok {
		ns = n.Namespace()
	}
	for _, op := range fhewasm.Ops {
		sym, ok := ns.Symbol(op)
		if !ok {
			sym = "-"
		}
		fmt.Fprintf(a.out, "  %-14s %s\n", op, sym)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func (a *app) ops() error {
	for _, op := range fhewasm.Ops {
		sig, _ := fhewasm.SignatureOf(op)
		required := ""
		for _, r := range fhewasm.Required {
			if r == op {
				required = " (required)"
			}
		}
		fmt.Fprintf(a.out, "%s%s\n", sig, required)
	}
	return nil
}

func (a *app) keygen(ctx context.Context) error {
	fhe, err := a.initEngine(ctx)
	if err != nil {
		return err
	}
	keys, err := fhe.GenerateKeys(ctx)
	if err != nil {
		return err
	}

	if a.flags.store {
		s, err := a.openStore()
		if err != nil {
			return err
		}
		version, _ := fhe.Version(ctx)
		b, err := s.Put(keystore.Bundle{EngineVersion: version, Keys: *keys})
		if err != nil {
			return err
		}
		a.log.Info("key bundle stored", zap.Stringer("id", b.ID), zap.String("path", a.cfg.Keystore.Path))
		fmt.Fprintln(os.Stderr, "key id:", b.ID)
	}

	if a.flags.out != "" {
		data, err := json.Marshal(keys)
		if err != nil {
			return err
		}
		return os.WriteFile(a.flags.out, data, 0o600)
	}
	return a.print(keys)
}

func decodeCiphertext(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "ciphertext is not base64")
	}
	return b, nil
}

func (a *app) encrypt(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.InvalidInput(errors.PhaseConfig, "usage: encrypt <value>")
	}
	value, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "value")
	}
	keys, err := a.keys()
	if err != nil {
		return err
	}
	fhe, err := a.initEngine(ctx)
	if err != nil {
		return err
	}
	ct, err := fhe.Encrypt(ctx, value, a.flags.bits, keys.PublicKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, base64.StdEncoding.EncodeToString(ct))
	return nil
}

func (a *app) decrypt(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.InvalidInput(errors.PhaseConfig, "usage: decrypt <ciphertext>")
	}
	ct, err := decodeCiphertext(args[0])
	if err != nil {
		return err
	}
	keys, err := a.keys()
	if err != nil {
		return err
	}
	fhe, err := a.initEngine(ctx)
	if err != nil {
		return err
	}
	v, err := fhe.Decrypt(ctx, ct, keys.PrivateKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, v)
	return nil
}

func (a *app) eval(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.InvalidInput(errors.PhaseConfig, "usage: eval <add|sub|eq|lt> <lhs> <rhs>")
	}
	lhs, err := decodeCiphertext(args[1])
	if err != nil {
		return err
	}
	rhs, err := decodeCiphertext(args[2])
	if err != nil {
		return err
	}
	keys, err := a.keys()
	if err != nil {
		return err
	}
	fhe, err := a.initEngine(ctx)
	if err != nil {
		return err
	}
	ct, err := loader.Eval(ctx, fhe, fhewasm.Op(args[0]), lhs, rhs, keys.EvaluationKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, base64.StdEncoding.EncodeToString(ct))
	return nil
}

// serve starts the HTTP server right away and loads the engine alongside;
// operations answer 503 until the engine is ready.
func (a *app) serve(ctx context.Context) error {
	bin, src, err := a.fetchBinary(ctx)
	if err != nil {
		return err
	}
	var exec []byte
	if a.cfg.Wasm.Exec != "" {
		execSrc, err := source.Resolve(a.cfg.Wasm.Exec, a.sourceOptions())
		if err != nil {
			return err
		}
		if exec, err = execSrc.Fetch(ctx); err != nil {
			return err
		}
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}

	l := a.newLoader(loader.WithBytes(bin))
	g, gctx := errgroup.WithContext(ctx)
	var loaded atomic.Bool
	srv := server.New(server.Config{
		Engine:  liveEngine(gctx, l, &loaded, a.log),
		Store:   store,
		Binary:  bin,
		Exec:    exec,
		Origins: a.cfg.Server.Origins,
		Logger:  a.log,
	})

	g.Go(func() error {
		if _, err := l.Init(gctx); err != nil {
			return err
		}
		loaded.Store(true)
		a.log.Info("engine loaded", zap.String("location", src.Location()))
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, a.cfg.Addr())
	})
	return g.Wait()
}

// liveEngine returns the loaded engine. After the first load, an engine the
// runtime closed under an aborted request is loaded again in the background
// while requests get not_initialized.
func liveEngine(ctx context.Context, l *loader.Loader, loaded *atomic.Bool, log *zap.Logger) server.EngineFunc {
	return func() (fhewasm.FHE, error) {
		fhe, err := l.Get()
		if err != nil && loaded.Load() {
			go func() {
				if _, err := l.Init(ctx); err != nil {
					log.Warn("engine reload failed", zap.Error(err))
				}
			}()
		}
		return fhe, err
	}
}
