//go:build !(js && wasm)

package loader

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfhe/fhe-wasm/engine"
	"github.com/luxfhe/fhe-wasm/source"
)

type wazeroBackend struct {
	*engine.Instance
	engine *engine.Engine
}

func (b *wazeroBackend) Close(ctx context.Context) error {
	ierr := b.Instance.Close(ctx)
	if err := b.engine.Close(ctx); err != nil {
		return err
	}
	return ierr
}

func open(ctx context.Context, o *Options) (backend, error) {
	src, err := o.source()
	if err != nil {
		return nil, err
	}
	bin, err := source.Load(ctx, src, o.Digest)
	if err != nil {
		return nil, err
	}
	o.Logger.Debug("engine binary loaded", zap.String("location", src.Location()), zap.Int("size", len(bin)))

	cfg := o.Engine
	if cfg.Logger == nil {
		cfg.Logger = o.Logger
	}
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, o.PublishTimeout)
	defer cancel()
	inst, err := eng.Load(ictx, bin)
	if err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}

	o.Logger.Info("FHE engine ready",
		zap.String("location", src.Location()),
		zap.String("digest", inst.Manifest().Digest),
		zap.String("version", inst.Namespace().Version))
	return &wazeroBackend{Instance: inst, engine: eng}, nil
}
