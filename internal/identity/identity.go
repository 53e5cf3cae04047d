// Package identity persists and loads the long-term Ed25519 signing
// keypair that anchors a participant's handshakes.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Sentinel errors surfaced to the embedder at startup.
var (
	ErrIdentityFormat = errors.New("identity: key file is not a valid Ed25519 PKCS8 key")
	ErrIdentityIO     = errors.New("identity: failed to read or write key file")
)

const pemBlockType = "PRIVATE KEY"

// Identity wraps the long-term Ed25519 keypair.
type Identity struct {
	private ed25519.PrivateKey
}

// Public returns the raw 32-byte identity public key for transmission.
func (id *Identity) Public() [32]byte {
	var out [32]byte
	copy(out[:], id.private.Public().(ed25519.PublicKey))
	return out
}

// Sign signs message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}

// LoadOrCreate loads the Ed25519 identity key stored at path, generating
// and persisting a fresh one on first use. Subsequent calls with the same
// path always return the same key.
func LoadOrCreate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return parsePEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrIdentityIO, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generating key: %v", ErrIdentityIO, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling key: %v", ErrIdentityIO, err)
	}

	block := &pem.Block{Type: pemBlockType, Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing key file: %v", ErrIdentityIO, err)
	}

	return &Identity{private: priv}, nil
}

func parsePEM(data []byte) (*Identity, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrIdentityFormat)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityFormat, err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is not Ed25519", ErrIdentityFormat)
	}

	return &Identity{private: priv}, nil
}
