// Package loader initializes the FHE engine once per process and forwards
// calls to it.
//
// Init resolves the engine binary, instantiates it on the platform backend
// (wazero natively, the browser's WebAssembly API under js/wasm) and waits
// for the engine to publish its namespace:
//
//	fhe, err := loader.Init(ctx, loader.WithLocation("https://cdn.example.com/luxfhe.wasm"))
//	if err != nil {
//	    return err
//	}
//	keys, err := fhe.GenerateKeys(ctx)
//
// Init is idempotent. Concurrent callers share the in-flight attempt, and a
// failed attempt is retried by the next call. Options passed after a
// successful Init are ignored until Close.
//
// A call aborted by its context closes the wasm instance under it. The
// loader then drops that engine: IsInitialized reports false and the next
// Init, or any forwarding call, loads it again. Close discards an attempt
// still in flight.
//
// The package-level functions use a default Loader. Separate Loader values
// can host different engines side by side.
package loader
