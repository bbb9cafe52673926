// Package engine hosts a precompiled FHE engine binary on wazero.
//
// The engine is a core WebAssembly module built for WASI preview1. When its
// entry point runs it publishes a namespace through the luxfhe host module;
// every published op is then called through a small memory protocol.
//
// # Flow
//
//  1. New creates a wazero runtime (optionally with an on-disk compilation cache)
//  2. Engine.Compile inspects the binary and compiles it, cached by digest
//  3. Engine.Instantiate runs the entry point and binds the namespace
//  4. Instance.Call (or the typed FHE methods) forwards operations
//
// # Host Module
//
//	luxfhe.publish(ptr, len i32)      CBOR namespace {name, version, ops}
//	luxfhe.fail(ptr, len i32)         error message for the current call
//	luxfhe.log(level, ptr, len i32)   0 debug, 1 info, 2 warn, 3 error
//
// # Exports
//
//	memory
//	malloc(size i32) -> i32
//	free(ptr, size i32)
//	_initialize or _start
//	<op symbol>(ptr, len i32) -> i64   packed ptr<<32 | len of a CBOR result
//
// Arguments are passed as one CBOR array written into a malloc'ed buffer.
// A zero result without a call to fail is treated as invalid data.
//
// When the entry point does not publish, exports named exactly like the ops
// ("generateKeys", "encrypt", ...) form an implicit namespace unless
// Config.RequirePublish is set.
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use. Instance serializes calls
// internally. A call whose context is already done never enters the engine;
// one whose context ends mid-call is aborted by the runtime, which closes the
// instance. Instance.Closed reports that.
//
// # Logging
//
// Config.Logger receives the engine's own logs, luxfhe.log messages and the
// guest's stdout and stderr at debug level. Without one, the package logger
// set through SetLogger is used.
package engine
