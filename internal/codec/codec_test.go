package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskwire/duskwire/internal/codec"
)

func TestB64RoundTrip(t *testing.T) {
	in := []byte{0x00, 0x01, 0xff, 0x7a}
	out, err := codec.DecodeB64(codec.EncodeB64(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeB64_RejectsMalformedPadding(t *testing.T) {
	_, err := codec.DecodeB64("abc")
	assert.ErrorIs(t, err, codec.ErrPayloadField)
}

func TestPayloadKind_MissingType(t *testing.T) {
	_, err := codec.PayloadKind(json.RawMessage(`{"foo":"bar"}`))
	assert.ErrorIs(t, err, codec.ErrPayloadKind)
}

func TestHandshakePayloadRoundTrip(t *testing.T) {
	var identity, ephemeral [32]byte
	identity[0] = 1
	ephemeral[0] = 2
	sig := make([]byte, 64)
	sig[0] = 3

	raw := codec.EncodeHandshakePayload(codec.KindHandshakeInit, identity, ephemeral, sig)

	kind, err := codec.PayloadKind(raw)
	require.NoError(t, err)
	assert.Equal(t, codec.KindHandshakeInit, kind)

	decoded, err := codec.DecodeHandshakePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, identity, decoded.Identity)
	assert.Equal(t, ephemeral, decoded.Ephemeral)
	assert.Equal(t, sig, decoded.Sig)
}

func TestDecodeHandshakePayload_RejectsWrongLength(t *testing.T) {
	raw, _ := json.Marshal(codec.HandshakePayload{
		Type:      codec.KindHandshakeInit,
		Identity:  codec.EncodeB64([]byte{1, 2, 3}),
		Ephemeral: codec.EncodeB64(make([]byte, 32)),
		Sig:       codec.EncodeB64(make([]byte, 64)),
	})

	_, err := codec.DecodeHandshakePayload(raw)
	assert.ErrorIs(t, err, codec.ErrPayloadField)
}

func TestCiphertextPayloadRoundTrip(t *testing.T) {
	var nonce [12]byte
	nonce[0] = 9
	ct := make([]byte, 32)
	ct[0] = 7

	raw := codec.EncodeCiphertextPayload(nonce, ct)
	decoded, err := codec.DecodeCiphertextPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, nonce, decoded.Nonce)
	assert.Equal(t, ct, decoded.CT)
}

func TestDecodeCiphertextPayload_RejectsShortCiphertext(t *testing.T) {
	raw, _ := json.Marshal(codec.CiphertextPayload{
		Type:  codec.KindCiphertext,
		Nonce: codec.EncodeB64(make([]byte, 12)),
		CT:    codec.EncodeB64(make([]byte, 4)),
	})

	_, err := codec.DecodeCiphertextPayload(raw)
	assert.ErrorIs(t, err, codec.ErrPayloadField)
}

func TestFrameUnmarshalsUnknownType(t *testing.T) {
	var f codec.Frame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"mystery"}`), &f))
	assert.Equal(t, "mystery", f.Type)
}
