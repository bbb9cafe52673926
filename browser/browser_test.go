//go:build !(js && wasm)

package browser

import (
	"context"
	"testing"

	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/source"
)

func TestLoadUnsupported(t *testing.T) {
	_, err := Load(context.Background(), Options{})
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseInstantiate, Kind: errors.KindUnsupported}) {
		t.Fatalf("Load = %v, want unsupported", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.URL != source.DefaultURL || o.ExecURL != source.DefaultExecURL {
		t.Errorf("defaults = %+v", o)
	}
	if o.Name != "luxfhe" || o.PollInterval != DefaultPollInterval || o.Timeout != DefaultTimeout {
		t.Errorf("defaults = %+v", o)
	}

	o = Options{URL: "https://cdn.example.com/fhe/tfhe.wasm"}.withDefaults()
	if o.ExecURL != "https://cdn.example.com/fhe/wasm_exec.js" {
		t.Errorf("ExecURL = %q", o.ExecURL)
	}

	o = Options{Bytes: []byte{0}}.withDefaults()
	if o.URL != "" || o.ExecURL != source.DefaultExecURL {
		t.Errorf("bytes defaults = %+v", o)
	}
}
