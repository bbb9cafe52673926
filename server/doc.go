// Package server exposes the engine over HTTP: it serves the engine binary
// and its JS support script to browsers, and forwards FHE operations as
// JSON endpoints. Byte fields travel base64 encoded.
package server
