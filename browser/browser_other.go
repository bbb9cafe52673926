//go:build !(js && wasm)

package browser

import (
	"context"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

func errUnsupported() error {
	return errors.Unsupported(errors.PhaseInstantiate, "the browser loader requires GOOS=js GOARCH=wasm")
}

// Namespace is the published engine object. Outside js/wasm it is never
// returned by Load.
type Namespace struct {
	name string
}

var _ fhewasm.FHE = (*Namespace)(nil)

// Load always fails outside js/wasm.
func Load(context.Context, Options) (*Namespace, error) {
	return nil, errUnsupported()
}

func (n *Namespace) Name() string                            { return n.name }
func (n *Namespace) Close(context.Context) error             { return nil }
func (n *Namespace) Closed() bool                            { return false }
func (n *Namespace) Version(context.Context) (string, error) { return "", errUnsupported() }

func (n *Namespace) GenerateKeys(context.Context) (*fhewasm.Keys, error) {
	return nil, errUnsupported()
}

func (n *Namespace) Encrypt(context.Context, uint64, uint8, []byte) ([]byte, error) {
	return nil, errUnsupported()
}

func (n *Namespace) Decrypt(context.Context, []byte, []byte) (uint64, error) {
	return 0, errUnsupported()
}

func (n *Namespace) Add(context.Context, []byte, []byte, []byte) ([]byte, error) {
	return nil, errUnsupported()
}

func (n *Namespace) Sub(context.Context, []byte, []byte, []byte) ([]byte, error) {
	return nil, errUnsupported()
}

func (n *Namespace) Eq(context.Context, []byte, []byte, []byte) ([]byte, error) {
	return nil, errUnsupported()
}

func (n *Namespace) Lt(context.Context, []byte, []byte, []byte) ([]byte, error) {
	return nil, errUnsupported()
}
