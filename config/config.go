// Package config loads settings from flags, LUXFHE_* environment variables
// and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfhe/fhe-wasm/engine"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/loader"
	"github.com/luxfhe/fhe-wasm/source"
)

const (
	EnvPrefix = "LUXFHE"

	defaultHost      = "127.0.0.1"
	defaultPort      = 8080
	defaultLogLevel  = "info"
	defaultLogFormat = "console"
	defaultKeystore  = ".luxfhe/keys"
)

// Config holds the application configuration.
type Config struct {
	Wasm     WasmConfig      `mapstructure:"wasm"`
	Engine   EngineConfig    `mapstructure:"engine"`
	S3       source.S3Config `mapstructure:"s3"`
	Server   ServerConfig    `mapstructure:"server"`
	Keystore KeystoreConfig  `mapstructure:"keystore"`
	Log      LogConfig       `mapstructure:"log"`
}

// WasmConfig locates the engine binary.
type WasmConfig struct {
	Location       string        `mapstructure:"location"`
	Digest         string        `mapstructure:"digest"`
	Exec           string        `mapstructure:"exec"`
	PublishTimeout time.Duration `mapstructure:"publish-timeout"`
}

// EngineConfig tunes the wazero host.
type EngineConfig struct {
	CacheDir       string `mapstructure:"cache-dir"`
	MemoryPages    uint32 `mapstructure:"memory-pages"`
	CompiledCache  int    `mapstructure:"compiled-cache"`
	RequirePublish bool   `mapstructure:"require-publish"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host    string   `mapstructure:"host"`
	Port    int      `mapstructure:"port"`
	Origins []string `mapstructure:"origins"`
}

// KeystoreConfig locates the key bundle database.
type KeystoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Flags registers every setting on fs.
func Flags(fs *flag.FlagSet) {
	fs.StringP("config", "c", "", "config file (yaml, json or toml)")
	fs.StringP("wasm.location", "w", "", "engine binary: path, file://, http(s):// or s3:// URL")
	fs.String("wasm.digest", "", "expected blake2b-256 digest of the engine binary (hex)")
	fs.String("wasm.exec", "", "wasm_exec.js served next to the engine")
	fs.Duration("wasm.publish-timeout", loader.DefaultPublishTimeout, "how long to wait for the engine to publish its namespace")
	fs.String("engine.cache-dir", "", "directory for the compilation cache")
	fs.Uint32("engine.memory-pages", 0, "engine memory limit in 64KiB pages (0 for no limit)")
	fs.Int("engine.compiled-cache", engine.DefaultCompiledCacheSize, "compiled engines kept in memory")
	fs.Bool("engine.require-publish", false, "fail when the engine does not publish a namespace")
	fs.String("s3.endpoint", "", "S3 endpoint for S3-compatible stores")
	fs.String("s3.region", source.DefaultS3Region, "S3 region")
	fs.String("s3.access-key", "", "S3 access key")
	fs.String("s3.secret-key", "", "S3 secret key")
	fs.Bool("s3.path-style", false, "use path-style S3 addressing")
	fs.String("server.host", defaultHost, "HTTP listen host")
	fs.IntP("server.port", "p", defaultPort, "HTTP listen port")
	fs.StringSlice("server.origins", []string{"*"}, "allowed CORS origins")
	fs.String("keystore.path", defaultKeystore, "key bundle database directory")
	fs.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("log.format", defaultLogFormat, "log format (console or json)")
}

// Load parses args with fs (which must have Flags registered) and merges
// the environment and the optional config file. Flags that were set win
// over the environment, which wins over the file.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse flags")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "bind flags")
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config "+file)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags cannot constrain.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.format %q (want console or json)", c.Log.Format))
	}
	if c.Engine.CompiledCache < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "engine.compiled-cache must not be negative")
	}
	return nil
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoaderOptions translates the configuration into loader options.
func (c *Config) LoaderOptions() []loader.Option {
	return []loader.Option{
		loader.WithLocation(c.Wasm.Location),
		loader.WithDigest(c.Wasm.Digest),
		loader.WithExecURL(c.Wasm.Exec),
		loader.WithPublishTimeout(c.Wasm.PublishTimeout),
		loader.WithS3(c.S3),
		loader.WithEngineConfig(engine.Config{
			CacheDir:          c.Engine.CacheDir,
			MemoryLimitPages:  c.Engine.MemoryPages,
			CompiledCacheSize: c.Engine.CompiledCache,
			RequirePublish:    c.Engine.RequirePublish,
		}),
	}
}
