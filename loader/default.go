package loader

import (
	"context"

	fhewasm "github.com/luxfhe/fhe-wasm"
)

var defaultLoader = New()

// Default returns the process-wide loader used by the package functions.
func Default() *Loader {
	return defaultLoader
}

// Init initializes the default loader.
func Init(ctx context.Context, opts ...Option) (fhewasm.FHE, error) {
	return defaultLoader.Init(ctx, opts...)
}

// Get returns the default loader's engine.
func Get() (fhewasm.FHE, error) {
	return defaultLoader.Get()
}

// IsInitialized reports whether the default loader is ready.
func IsInitialized() bool {
	return defaultLoader.IsInitialized()
}

// GenerateKeys generates keys with the default loader.
func GenerateKeys(ctx context.Context) (*fhewasm.Keys, error) {
	return defaultLoader.GenerateKeys(ctx)
}

// Encrypt encrypts with the default loader.
func Encrypt(ctx context.Context, value uint64, bitWidth uint8, publicKey []byte) ([]byte, error) {
	return defaultLoader.Encrypt(ctx, value, bitWidth, publicKey)
}

// Decrypt decrypts with the default loader.
func Decrypt(ctx context.Context, ciphertext, privateKey []byte) (uint64, error) {
	return defaultLoader.Decrypt(ctx, ciphertext, privateKey)
}
