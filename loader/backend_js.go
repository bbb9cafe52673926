//go:build js && wasm

package loader

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfhe/fhe-wasm/browser"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/source"
)

func open(ctx context.Context, o *Options) (backend, error) {
	url := o.Location
	switch {
	case o.Source != nil:
		return nil, errors.Unsupported(errors.PhaseResolve, "custom sources are not available in the browser; use a URL or bytes")
	case url == "" && len(o.Bytes) == 0:
		url = source.DefaultURL
	}

	ns, err := browser.Load(ctx, browser.Options{
		URL:         url,
		Bytes:       o.Bytes,
		ExecURL:     o.ExecURL,
		Timeout:     o.PublishTimeout,
		KeyEncoding: browser.KeyEncoding(o.KeyEncoding),
	})
	if err != nil {
		return nil, err
	}
	o.Logger.Info("FHE engine ready", zap.String("location", url), zap.String("global", ns.Name()))
	return ns, nil
}
