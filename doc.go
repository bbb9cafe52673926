// Package fhewasm loads a precompiled homomorphic-encryption engine built as
// WebAssembly and re-exposes its operations to Go.
//
// The engine binary is opaque: it owns the FHE scheme, its parameters and
// its key formats. This module only knows how to find the binary, start it
// and forward calls to the namespace of operations it publishes.
//
// # Architecture Overview
//
//	fhewasm/            Root package with the FHE interface, Keys and op signatures
//	├── loader/         Idempotent initialization singleton and convenience calls
//	├── engine/         Server-side host built on wazero (WASI preview1)
//	├── browser/        js/wasm host driving the engine through syscall/js
//	├── source/         Resolution of file, http(s) and s3 locations to bytes
//	├── wasm/           Core WASM binary parsing and encoding
//	├── tfhe/           Inert stand-ins for the TFHE library API surface
//	├── keystore/       Pebble-backed storage of generated key bundles
//	├── server/         HTTP surface serving engine assets and operations
//	├── config/         Viper configuration shared by the CLI and server
//	├── errors/         Structured error types
//	├── internal/       Logging setup and in-process engine fixtures for tests
//	└── cmd/luxfhe/     Command line runner, interactive mode and HTTP server
//
// # Quick Start
//
//	fhe, err := loader.Init(ctx, loader.WithLocation("wasm/luxfhe.wasm"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	keys, err := fhe.GenerateKeys(ctx)
//	ct, err := fhe.Encrypt(ctx, 42, fhewasm.DefaultBitWidth, keys.PublicKey)
//	v, err := fhe.Decrypt(ctx, ct, keys.PrivateKey) // 42
//
// # Engine Contract
//
// The engine is compiled and instantiated, its entry point is run, and it is
// then expected to publish a Namespace describing the operations it serves.
// Server-side this happens through the luxfhe.publish host import; in the
// browser the engine installs an object on globalThis.
//
// # Thread Safety
//
// The loader and engine are safe for concurrent use. Calls into a single
// engine instance are serialized because a wasm instance is single-threaded.
package fhewasm
