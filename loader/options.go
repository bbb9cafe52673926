package loader

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luxfhe/fhe-wasm/engine"
	"github.com/luxfhe/fhe-wasm/source"
)

// DefaultPublishTimeout bounds how long the loader waits for the engine to
// publish its namespace.
const DefaultPublishTimeout = 30 * time.Second

// Options holds loader configuration. Use the With functions to build it.
type Options struct {
	Source         source.Source
	Logger         *zap.Logger
	HTTPClient     *http.Client
	Location       string
	ExecURL        string
	Digest         string
	Bytes          []byte
	SearchDirs     []string
	S3             source.S3Config
	Engine         engine.Config
	PublishTimeout time.Duration

	// KeyEncoding is how keys and ciphertexts are passed to a browser
	// engine. See browser.Options.
	KeyEncoding string
}

// Option configures a Loader.
type Option func(*Options)

// WithLocation sets the engine location: a path, a file://, http(s):// or
// s3:// URL. Empty means the default location.
func WithLocation(location string) Option {
	return func(o *Options) {
		o.Location = location
	}
}

// WithBytes provides the engine binary directly.
func WithBytes(bin []byte) Option {
	return func(o *Options) {
		o.Bytes = bin
	}
}

// WithSource provides a custom binary source.
func WithSource(src source.Source) Option {
	return func(o *Options) {
		o.Source = src
	}
}

// WithDigest requires the binary to match a hex blake2b-256 digest.
func WithDigest(digest string) Option {
	return func(o *Options) {
		o.Digest = digest
	}
}

// WithLogger sets the logger for the loader and the engine host.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithEngineConfig sets the wazero engine configuration.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *Options) {
		o.Engine = cfg
	}
}

// WithS3 configures access to s3:// locations.
func WithS3(cfg source.S3Config) Option {
	return func(o *Options) {
		o.S3 = cfg
	}
}

// WithHTTPClient sets the client used for http(s) locations.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// WithSearchDirs sets the directories searched for the default binary.
func WithSearchDirs(dirs ...string) Option {
	return func(o *Options) {
		o.SearchDirs = dirs
	}
}

// WithPublishTimeout bounds the wait for the engine's namespace.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.PublishTimeout = d
	}
}

// WithRequirePublish makes Init fail when the engine does not publish a
// namespace, instead of falling back to its exports.
func WithRequirePublish(require bool) Option {
	return func(o *Options) {
		o.Engine.RequirePublish = require
	}
}

// WithExecURL sets the wasm_exec.js URL used by the browser backend.
func WithExecURL(u string) Option {
	return func(o *Options) {
		o.ExecURL = u
	}
}

// WithKeyEncoding sets how byte arguments reach a browser engine: "bytes"
// for Uint8Array, "base64" for strings. Empty detects it from the keys the
// engine generates. Ignored by the native backend.
func WithKeyEncoding(enc string) Option {
	return func(o *Options) {
		o.KeyEncoding = enc
	}
}

func buildOptions(base []Option, extra []Option) *Options {
	o := &Options{PublishTimeout: DefaultPublishTimeout}
	for _, opt := range base {
		opt(o)
	}
	for _, opt := range extra {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	return o
}

// source returns the configured binary source.
func (o *Options) source() (source.Source, error) {
	switch {
	case o.Source != nil:
		return o.Source, nil
	case len(o.Bytes) > 0:
		return source.Bytes(o.Bytes), nil
	}
	return source.Resolve(o.Location, source.Options{
		HTTPClient: o.HTTPClient,
		S3:         o.S3,
		SearchDirs: o.SearchDirs,
	})
}
