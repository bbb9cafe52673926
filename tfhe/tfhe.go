package tfhe

import (
	"context"
	"net/url"

	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/loader"
	"github.com/luxfhe/fhe-wasm/source"
)

// InitInput locates the engine: a string path or URL, a *url.URL, the
// binary itself as []byte, or a source.Source. Nil means the default
// location.
type InitInput any

// InitOptions mirrors the legacy init options object.
type InitOptions struct {
	ModuleOrPath InitInput
}

// Init initializes the default loader from opts.ModuleOrPath.
func Init(ctx context.Context, opts InitOptions) error {
	opt, err := inputOption(opts.ModuleOrPath)
	if err != nil {
		return err
	}
	var extra []loader.Option
	if opt != nil {
		extra = append(extra, opt)
	}
	_, err = loader.Init(ctx, extra...)
	return err
}

func inputOption(in InitInput) (loader.Option, error) {
	switch v := in.(type) {
	case nil:
		return nil, nil
	case string:
		return loader.WithLocation(v), nil
	case *url.URL:
		if v == nil {
			return nil, nil
		}
		return loader.WithLocation(v.String()), nil
	case []byte:
		return loader.WithBytes(v), nil
	case source.Source:
		return loader.WithSource(v), nil
	}
	return nil, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
		Value(in).
		Detail("unsupported init input %T", in).
		Build()
}

// InitPanicHook does nothing. Go reports panics itself.
func InitPanicHook() {}

// InitThreadPool does nothing. The engine schedules its own work.
func InitThreadPool(context.Context, int) error {
	return nil
}
