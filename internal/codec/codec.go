// Package codec implements the base64 and typed-JSON wire format shared by
// the relay broker frame and the inner handshake/ciphertext payloads.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for malformed or unrecognized wire payloads.
var (
	ErrPayloadKind  = errors.New("codec: missing or unknown payload type")
	ErrPayloadField = errors.New("codec: malformed payload field")
)

// Inner payload type discriminators.
const (
	KindHandshakeInit = "handshake_init"
	KindHandshake     = "handshake"
	KindCiphertext    = "ciphertext"
)

// Broker frame type discriminators.
const (
	FrameRegister = "register"
	FrameRelay    = "relay"
	FrameUserList = "user_list"
	FrameError    = "error"
)

// EncodeB64 encodes b using standard (padded) base64.
func EncodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeB64 strictly decodes s as standard (padded) base64; malformed
// padding is rejected rather than tolerated.
func DecodeB64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadField, err)
	}
	return b, nil
}

// kindEnvelope is used only to sniff the "type" discriminator before
// dispatching to a concrete payload shape.
type kindEnvelope struct {
	Type string `json:"type"`
}

// PayloadKind extracts the "type" discriminator from a JSON payload.
func PayloadKind(raw json.RawMessage) (string, error) {
	var env kindEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPayloadKind, err)
	}
	if env.Type == "" {
		return "", ErrPayloadKind
	}
	return env.Type, nil
}

// HandshakePayload is the wire shape shared by handshake_init and
// handshake: {type, identity, ephemeral, sig}, all base64.
type HandshakePayload struct {
	Type      string `json:"type"`
	Identity  string `json:"identity"`
	Ephemeral string `json:"ephemeral"`
	Sig       string `json:"sig"`
}

// DecodedHandshake holds the base64-decoded, fixed-size handshake fields.
type DecodedHandshake struct {
	Identity  [32]byte
	Ephemeral [32]byte
	Sig       []byte
}

// EncodeHandshakePayload builds a handshake_init/handshake inner payload.
func EncodeHandshakePayload(kind string, identity, ephemeral [32]byte, sig []byte) json.RawMessage {
	p := HandshakePayload{
		Type:      kind,
		Identity:  EncodeB64(identity[:]),
		Ephemeral: EncodeB64(ephemeral[:]),
		Sig:       EncodeB64(sig),
	}
	raw, _ := json.Marshal(p)
	return raw
}

// DecodeHandshakePayload parses and base64-decodes a handshake_init/
// handshake inner payload, validating field lengths (32-byte X25519/
// Ed25519 public keys, 64-byte Ed25519 signature).
func DecodeHandshakePayload(raw json.RawMessage) (*DecodedHandshake, error) {
	var p HandshakePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadField, err)
	}

	identity, err := DecodeB64(p.Identity)
	if err != nil {
		return nil, err
	}
	if len(identity) != 32 {
		return nil, fmt.Errorf("%w: identity key must be 32 bytes, got %d", ErrPayloadField, len(identity))
	}

	ephemeral, err := DecodeB64(p.Ephemeral)
	if err != nil {
		return nil, err
	}
	if len(ephemeral) != 32 {
		return nil, fmt.Errorf("%w: ephemeral key must be 32 bytes, got %d", ErrPayloadField, len(ephemeral))
	}

	sig, err := DecodeB64(p.Sig)
	if err != nil {
		return nil, err
	}
	if len(sig) != 64 {
		return nil, fmt.Errorf("%w: signature must be 64 bytes, got %d", ErrPayloadField, len(sig))
	}

	out := &DecodedHandshake{Sig: sig}
	copy(out.Identity[:], identity)
	copy(out.Ephemeral[:], ephemeral)
	return out, nil
}

// CiphertextPayload is the wire shape of an encrypted message: {type, nonce, ct}.
type CiphertextPayload struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
	CT    string `json:"ct"`
}

// DecodedCiphertext holds the base64-decoded nonce and AEAD ciphertext.
type DecodedCiphertext struct {
	Nonce [12]byte
	CT    []byte
}

// EncodeCiphertextPayload builds a ciphertext inner payload.
func EncodeCiphertextPayload(nonce [12]byte, ct []byte) json.RawMessage {
	p := CiphertextPayload{
		Type:  KindCiphertext,
		Nonce: EncodeB64(nonce[:]),
		CT:    EncodeB64(ct),
	}
	raw, _ := json.Marshal(p)
	return raw
}

// DecodeCiphertextPayload parses and base64-decodes a ciphertext payload.
func DecodeCiphertextPayload(raw json.RawMessage) (*DecodedCiphertext, error) {
	var p CiphertextPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadField, err)
	}

	nonce, err := DecodeB64(p.Nonce)
	if err != nil {
		return nil, err
	}
	if len(nonce) != 12 {
		return nil, fmt.Errorf("%w: nonce must be 12 bytes, got %d", ErrPayloadField, len(nonce))
	}

	ct, err := DecodeB64(p.CT)
	if err != nil {
		return nil, err
	}
	if len(ct) < 16 {
		return nil, fmt.Errorf("%w: ciphertext shorter than AEAD tag", ErrPayloadField)
	}

	out := &DecodedCiphertext{CT: ct}
	copy(out.Nonce[:], nonce)
	return out, nil
}

// Frame is the outer broker<->client envelope.
type Frame struct {
	Type     string          `json:"type"`
	Username string          `json:"username,omitempty"`
	Token    string          `json:"token,omitempty"`
	To       string          `json:"to,omitempty"`
	From     string          `json:"from,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Users    []string        `json:"users,omitempty"`
	Message  string          `json:"message,omitempty"`
}
