package engine

import (
	"context"

	fhewasm "github.com/luxfhe/fhe-wasm"
)

var _ fhewasm.FHE = (*Instance)(nil)

// Version returns the engine version. The published namespace version is
// used when the engine does not serve the version op.
func (i *Instance) Version(ctx context.Context) (string, error) {
	if _, ok := i.fns[fhewasm.OpVersion]; !ok && i.ns.Version != "" {
		return i.ns.Version, nil
	}
	var v string
	err := i.Call(ctx, fhewasm.OpVersion, &v)
	return v, err
}

// GenerateKeys asks the engine for a fresh key set.
func (i *Instance) GenerateKeys(ctx context.Context) (*fhewasm.Keys, error) {
	var keys fhewasm.Keys
	if err := i.Call(ctx, fhewasm.OpGenerateKeys, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

// Encrypt encrypts value as a bitWidth-bit plaintext. A zero bitWidth means
// fhewasm.DefaultBitWidth.
func (i *Instance) Encrypt(ctx context.Context, value uint64, bitWidth uint8, publicKey []byte) ([]byte, error) {
	if bitWidth == 0 {
		bitWidth = fhewasm.DefaultBitWidth
	}
	if err := fhewasm.CheckPlaintext(value, bitWidth); err != nil {
		return nil, err
	}
	var ct []byte
	if err := i.Call(ctx, fhewasm.OpEncrypt, &ct, value, bitWidth, publicKey); err != nil {
		return nil, err
	}
	return ct, nil
}

// Decrypt recovers the plaintext of ciphertext.
func (i *Instance) Decrypt(ctx context.Context, ciphertext, privateKey []byte) (uint64, error) {
	var v uint64
	err := i.Call(ctx, fhewasm.OpDecrypt, &v, ciphertext, privateKey)
	return v, err
}

// Add returns the encrypted sum of lhs and rhs.
func (i *Instance) Add(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return i.binary(ctx, fhewasm.OpAdd, lhs, rhs, evaluationKey)
}

// Sub returns the encrypted difference of lhs and rhs.
func (i *Instance) Sub(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return i.binary(ctx, fhewasm.OpSub, lhs, rhs, evaluationKey)
}

// Eq returns an encrypted boolean for lhs == rhs.
func (i *Instance) Eq(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return i.binary(ctx, fhewasm.OpEq, lhs, rhs, evaluationKey)
}

// Lt returns an encrypted boolean for lhs < rhs.
func (i *Instance) Lt(ctx context.Context, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	return i.binary(ctx, fhewasm.OpLt, lhs, rhs, evaluationKey)
}

func (i *Instance) binary(ctx context.Context, op fhewasm.Op, lhs, rhs, evaluationKey []byte) ([]byte, error) {
	var out []byte
	if err := i.Call(ctx, op, &out, lhs, rhs, evaluationKey); err != nil {
		return nil, err
	}
	return out, nil
}
