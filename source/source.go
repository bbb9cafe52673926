package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/wasm"
)

const (
	// DefaultPath is where the engine binary is looked up when no location
	// is configured, relative to the executable and then the working
	// directory.
	DefaultPath = "wasm/luxfhe.wasm"

	// DefaultURL is the engine URL the browser loader uses by default.
	DefaultURL = "/wasm/luxfhe.wasm"

	// DefaultExecURL is the default location of the Go JS support script.
	DefaultExecURL = "/wasm/wasm_exec.js"

	// ExecScript is the file name of the Go JS support script.
	ExecScript = "wasm_exec.js"

	// MaxSize bounds how much is read from any source.
	MaxSize = 512 << 20
)

// Source yields an engine binary.
type Source interface {
	// Location describes where the binary comes from.
	Location() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Options configure how locations are resolved.
type Options struct {
	HTTPClient *http.Client
	S3         S3Config

	// SearchDirs overrides the directories searched for DefaultPath.
	SearchDirs []string
}

// Resolve maps a location to a Source without fetching it.
func Resolve(location string, opts Options) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return &fileSource{path: DefaultLocation(opts.SearchDirs...)}, nil
	}

	scheme, rest, hasScheme := strings.Cut(location, "://")
	if !hasScheme || isWindowsDrive(scheme) {
		return &fileSource{path: location}, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidInput, err, "parse location "+location)
	}

	switch strings.ToLower(scheme) {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return nil, errors.InvalidInput(errors.PhaseResolve, fmt.Sprintf("file URL with remote host %q", u.Host))
		}
		return &fileSource{path: filepath.FromSlash(u.Path)}, nil
	case "http", "https":
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{}
		}
		return &httpSource{url: location, client: client}, nil
	case "s3":
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return nil, errors.InvalidInput(errors.PhaseResolve, "s3 location must be s3://bucket/key")
		}
		return &s3Source{bucket: bucket, key: key, cfg: opts.S3}, nil
	}
	return nil, errors.Unsupported(errors.PhaseResolve, fmt.Sprintf("location scheme %q", scheme))
}

func isWindowsDrive(scheme string) bool {
	return len(scheme) == 1
}

// DefaultLocation returns the first existing DefaultPath under dirs, or
// under the executable's directory and the working directory when dirs is
// empty. It falls back to DefaultPath.
func DefaultLocation(dirs ...string) string {
	if len(dirs) == 0 {
		if exe, err := os.Executable(); err == nil {
			dirs = append(dirs, filepath.Dir(exe))
		}
		dirs = append(dirs, ".")
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, filepath.FromSlash(DefaultPath))
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return filepath.FromSlash(DefaultPath)
}

// Load fetches src and checks that the result is a WebAssembly binary
// matching digest (hex blake2b-256) when digest is not empty.
func Load(ctx context.Context, src Source, digest string) ([]byte, error) {
	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !wasm.IsBinary(data) {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
			Value(src.Location()).
			Detail("%s is not a WebAssembly binary", src.Location()).
			Build()
	}
	if digest != "" {
		if got := fhewasm.Digest(data); !fhewasm.DigestMatches(digest, got) {
			return nil, errors.Integrity(errors.PhaseResolve, digest, got)
		}
	}
	return data, nil
}

// CompanionURL returns the wasm_exec.js URL next to wasmURL, or
// DefaultExecURL when wasmURL is empty or unparsable.
func CompanionURL(wasmURL string) string {
	if wasmURL == "" {
		return DefaultExecURL
	}
	u, err := url.Parse(wasmURL)
	if err != nil || u.Path == "" {
		return DefaultExecURL
	}
	u.Path = path.Join(path.Dir(u.Path), ExecScript)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
