package fhewasm

import (
	"context"

	"github.com/luxfhe/fhe-wasm/errors"
)

// DefaultNamespace is the global name the engine publishes itself under.
const DefaultNamespace = "luxfhe"

// DefaultBitWidth is used when callers do not choose a plaintext width.
const DefaultBitWidth uint8 = 64

// Op names an operation in the engine's published namespace.
type Op string

const (
	OpVersion      Op = "version"
	OpGenerateKeys Op = "generateKeys"
	OpEncrypt      Op = "encrypt"
	OpDecrypt      Op = "decrypt"
	OpAdd          Op = "add"
	OpSub          Op = "sub"
	OpEq           Op = "eq"
	OpLt           Op = "lt"
)

// Ops lists every operation the wrapper knows how to forward, in display order.
var Ops = []Op{OpVersion, OpGenerateKeys, OpEncrypt, OpDecrypt, OpAdd, OpSub, OpEq, OpLt}

// Required lists the operations an engine must publish to be usable.
var Required = []Op{OpGenerateKeys, OpEncrypt, OpDecrypt}

// Known reports whether op is one of Ops.
func (op Op) Known() bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Keys is a key set produced by the engine. The byte formats are owned by
// the engine and never interpreted here.
type Keys struct {
	PublicKey     []byte `cbor:"publicKey" json:"publicKey"`
	PrivateKey    []byte `cbor:"privateKey" json:"privateKey"`
	EvaluationKey []byte `cbor:"evaluationKey" json:"evaluationKey"`
}

// Namespace is what an engine publishes once its entry point has run.
// Ops maps each operation to the engine symbol serving it.
type Namespace struct {
	Ops     map[Op]string `cbor:"ops" json:"ops"`
	Name    string        `cbor:"name" json:"name"`
	Version string        `cbor:"version" json:"version"`
}

// Has reports whether the namespace serves op.
func (n *Namespace) Has(op Op) bool {
	if n == nil {
		return false
	}
	_, ok := n.Ops[op]
	return ok
}

// Symbol returns the engine symbol for op.
func (n *Namespace) Symbol(op Op) (string, bool) {
	if n == nil {
		return "", false
	}
	sym, ok := n.Ops[op]
	return sym, ok
}

// Missing returns the required ops the namespace does not serve.
func (n *Namespace) Missing() []Op {
	var missing []Op
	for _, op := range Required {
		if !n.Has(op) {
			missing = append(missing, op)
		}
	}
	return missing
}

// FHE is the operation surface re-exposed from the engine.
type FHE interface {
	Version(ctx context.Context) (string, error)
	GenerateKeys(ctx context.Context) (*Keys, error)
	Encrypt(ctx context.Context, value uint64, bitWidth uint8, publicKey []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, privateKey []byte) (uint64, error)
	Add(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error)
	Sub(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error)
	Eq(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error)
	Lt(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error)
}

var bitWidths = []uint8{1, 4, 8, 16, 32, 64}

// BitWidths returns the supported plaintext widths.
func BitWidths() []uint8 {
	out := make([]uint8, len(bitWidths))
	copy(out, bitWidths)
	return out
}

// CheckPlaintext validates that value fits in a supported bit width.
func CheckPlaintext(value uint64, bitWidth uint8) error {
	supported := false
	for _, w := range bitWidths {
		if w == bitWidth {
			supported = true
			break
		}
	}
	if !supported {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Op(string(OpEncrypt)).
			Value(bitWidth).
			Detail("bit width %d not supported (want one of %v)", bitWidth, bitWidths).
			Build()
	}
	if bitWidth < 64 && value>>bitWidth != 0 {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Op(string(OpEncrypt)).
			Value(value).
			Detail("value %d overflows %d bits", value, bitWidth).
			Build()
	}
	return nil
}
