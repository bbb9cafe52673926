package browser

import (
	"time"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/source"
)

// DefaultPollInterval is how often the global object is checked for the
// published namespace.
const DefaultPollInterval = 10 * time.Millisecond

// DefaultTimeout bounds the wait for publication.
const DefaultTimeout = 30 * time.Second

// KeyEncoding is how byte arguments are handed to the engine.
type KeyEncoding string

const (
	// KeyEncodingAuto starts with Uint8Array and switches to base64 once
	// the engine returns string keys from generateKeys.
	KeyEncodingAuto   KeyEncoding = ""
	KeyEncodingBytes  KeyEncoding = "bytes"
	KeyEncodingBase64 KeyEncoding = "base64"
)

// Options configure Load.
type Options struct {
	// URL of the engine binary. Ignored when Bytes is set.
	URL string

	// Bytes is an engine binary already in memory.
	Bytes []byte

	// ExecURL of wasm_exec.js. Defaults to the file next to URL.
	ExecURL string

	// Name of the global the engine publishes. Defaults to "luxfhe".
	Name string

	// KeyEncoding fixes the argument encoding. Set it when keys come from
	// storage rather than from this engine's generateKeys.
	KeyEncoding KeyEncoding

	Timeout      time.Duration
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.URL == "" && len(o.Bytes) == 0 {
		o.URL = source.DefaultURL
	}
	if o.ExecURL == "" {
		if len(o.Bytes) > 0 && o.URL == "" {
			o.ExecURL = source.DefaultExecURL
		} else {
			o.ExecURL = source.CompanionURL(o.URL)
		}
	}
	if o.Name == "" {
		o.Name = fhewasm.DefaultNamespace
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}
