// Package kdf wraps HKDF-SHA256 key derivation for session-key material,
// using HKDF-SHA256 key derivation.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDerivation wraps any failure reading the HKDF expand stream; in
// practice this only happens if the requested output length is absurd.
var ErrDerivation = errors.New("kdf: derivation failed")

// KeySize is the fixed output length for session keys.
const KeySize = 32

// Derive performs HKDF-Extract-then-Expand with SHA-256, an empty salt,
// and the caller-supplied domain-separating info, producing a 32-byte key.
func Derive(sharedSecret [32]byte, info []byte) ([32]byte, error) {
	var out [32]byte
	reader := hkdf.New(sha256.New, sharedSecret[:], nil, info)
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return out, nil
}
