package identity_test

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/identity"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	id, err := identity.Generate()
	require.NoError(t, err)
	require.Len(t, id.PublicKey(), 32)

	messages := [][]byte{
		[]byte(""),
		[]byte("hello"),
		[]byte(`{"amount":500,"tool_name":"transfer"}`),
	}

	for _, msg := range messages {
		sig, err := id.Sign(msg)
		require.NoError(t, err)
		assert.True(t, identity.Verify(id.PublicKeyHex(), msg, hex.EncodeToString(sig)))
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	t.Parallel()

	id, err := identity.Generate()
	require.NoError(t, err)

	msg := []byte("transfer 500 to acct-9")
	sig, err := id.Sign(msg)
	require.NoError(t, err)

	t.Run("flipped_message_bit", func(t *testing.T) {
		t.Parallel()
		mutated := append([]byte(nil), msg...)
		mutated[0] ^= 0x01
		assert.False(t, identity.Verify(id.PublicKeyHex(), mutated, hex.EncodeToString(sig)))
	})

	t.Run("flipped_signature_bit", func(t *testing.T) {
		t.Parallel()
		mutated := append([]byte(nil), sig...)
		mutated[0] ^= 0x01
		assert.False(t, identity.Verify(id.PublicKeyHex(), msg, hex.EncodeToString(mutated)))
	})

	t.Run("wrong_key", func(t *testing.T) {
		t.Parallel()
		other, err := identity.Generate()
		require.NoError(t, err)
		assert.False(t, identity.Verify(other.PublicKeyHex(), msg, hex.EncodeToString(sig)))
	})
}

func TestVerifyMalformedInputNeverPanics(t *testing.T) {
	t.Parallel()

	assert.False(t, identity.Verify("", []byte("x"), ""))
	assert.False(t, identity.Verify("not-hex", []byte("x"), "also-not-hex"))
	assert.False(t, identity.Verify("abcd", []byte("x"), "abcd")) // wrong lengths
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	id, err := identity.Generate()
	require.NoError(t, err)

	env, err := id.SignData(map[string]any{
		"tool_name": "transfer",
		"amount":    125.5,
		"to":        "acct-9",
	})
	require.NoError(t, err)

	assert.Equal(t, id.PublicKeyHex(), env.PublicKey)
	assert.True(t, identity.VerifyEnvelope(env))

	env.Data["amount"] = 9999.0
	assert.False(t, identity.VerifyEnvelope(env), "tampered data must not verify")

	assert.False(t, identity.VerifyEnvelope(nil))
}

func TestKeystoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.key")

	first, err := identity.LoadOrCreate(path, "correct horse")
	require.NoError(t, err)

	// Second load returns the same identity.
	second, err := identity.LoadOrCreate(path, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, first.PublicKeyHex(), second.PublicKeyHex())
}

func TestKeystoreWrongPassphrase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.key")

	_, err := identity.LoadOrCreate(path, "right")
	require.NoError(t, err)

	_, err = identity.LoadKey(path, "wrong")
	require.ErrorIs(t, err, identity.ErrPassphrase)
}

func TestFromPrivateKeyRejectsBadMaterial(t *testing.T) {
	t.Parallel()

	_, err := identity.FromPrivateKey([]byte("too short"))
	require.ErrorIs(t, err, identity.ErrKeyMaterial)
}
