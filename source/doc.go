// Package source locates and fetches engine binaries.
//
// A location is a filesystem path, a file://, http://, https:// or s3://
// URL, or empty for the default. Resolve turns a location into a Source;
// Load fetches it, checks the WebAssembly header and, when a digest is
// given, verifies it:
//
//	src, err := source.Resolve("https://cdn.example.com/luxfhe.wasm", source.Options{})
//	if err != nil {
//	    return err
//	}
//	bin, err := source.Load(ctx, src, expectedDigest)
//
// In-memory binaries are wrapped with Bytes.
package source
