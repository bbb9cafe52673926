// Package errors provides structured error types for the fhe-wasm module.
//
// Errors are categorized by Phase (where in the load/call lifecycle the error
// occurred) and Kind (error category). The Error type carries the engine
// operation, a detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindInvalidInput).
//		Op("encrypt").
//		Value(bits).
//		Detail("bit width %d not supported", bits).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotInitialized(errors.PhaseCall, "engine")
//	err := errors.Engine("decrypt", "ciphertext malformed")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
