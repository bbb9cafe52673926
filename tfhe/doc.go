// Package tfhe offers inert stand-ins for the legacy TFHE API so callers
// written against it keep compiling. Only Init does real work: it
// initializes the default loader. Keys, parameters and ciphertext lists
// hold bytes without interpreting them.
package tfhe
