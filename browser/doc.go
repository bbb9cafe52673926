// Package browser loads a GOOS=js engine build through the host's
// WebAssembly API when the module itself runs as js/wasm.
//
// Load injects wasm_exec.js when the Go class is missing, fetches and
// instantiates the engine with the Go import object, starts it, and polls
// the global object until the engine has published its namespace. The
// returned Namespace forwards every FHE operation to the published JS
// functions.
//
// Engines differ in how they encode keys: some return Uint8Array values,
// others base64 strings, and some wrap results in {data, error} objects.
// Namespace accepts all three and replies in the encoding the engine used.
//
// On other platforms Load returns an unsupported error.
package browser
