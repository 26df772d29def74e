package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrKeyMaterial is returned when private key material is missing or does
// not have the expected shape. It is fatal: callers must not retry.
var ErrKeyMaterial = errors.New("identity: missing or corrupt key material")

// Identity holds an agent's Ed25519 keypair. The private key never leaves
// the process except through the encrypted keystore; every signed artifact
// carries the public key, which is derived from the private key.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity.Generate: %w", err)
	}
	return &Identity{priv: priv, pub: pub}, nil
}

// FromPrivateKey reconstructs an identity from a 64-byte Ed25519 private key.
func FromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity.FromPrivateKey: got %d bytes: %w", len(priv), ErrKeyMaterial)
	}
	key := ed25519.PrivateKey(priv)
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity.FromPrivateKey: %w", ErrKeyMaterial)
	}
	return &Identity{priv: key, pub: pub}, nil
}

// PublicKey returns the raw 32-byte public key.
func (id *Identity) PublicKey() []byte { return []byte(id.pub) }

// PublicKeyHex returns the public key as lowercase hex, the wire form used
// everywhere an agent is referenced.
func (id *Identity) PublicKeyHex() string { return hex.EncodeToString(id.pub) }

// Sign signs message with the private key. Ed25519 signing is deterministic
// and has no side effects.
func (id *Identity) Sign(message []byte) ([]byte, error) {
	if len(id.priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity.Sign: %w", ErrKeyMaterial)
	}
	return ed25519.Sign(id.priv, message), nil
}

// Verify reports whether sig is a valid signature of message under the hex
// public key. Malformed input of any kind yields false, never an error.
func Verify(publicKeyHex string, message []byte, sigHex string) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// Envelope wraps structured data with a signature over its canonical JSON
// form. Both the guard pre-check and audit records use this shape, so a
// verifier can tie any artifact back to the signing agent.
type Envelope struct {
	Data      map[string]any `json:"data"`
	Signature string         `json:"signature"`
	PublicKey string         `json:"public_key"`
	Timestamp time.Time      `json:"timestamp"`
}

// CanonicalJSON renders data as JSON with object keys sorted, the byte
// form that signatures are computed over. encoding/json already sorts map
// keys, which makes the output stable across processes.
func CanonicalJSON(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("identity.CanonicalJSON: %w", err)
	}
	return b, nil
}

// SignData signs the canonical JSON of data and returns the full envelope.
func (id *Identity) SignData(data map[string]any) (*Envelope, error) {
	canon, err := CanonicalJSON(data)
	if err != nil {
		return nil, err
	}
	sig, err := id.Sign(canon)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Data:      data,
		Signature: hex.EncodeToString(sig),
		PublicKey: id.PublicKeyHex(),
		Timestamp: time.Now().UTC(),
	}, nil
}

// VerifyEnvelope reports whether the envelope's signature matches its data
// under its claimed public key. Malformed envelopes verify as false.
func VerifyEnvelope(env *Envelope) bool {
	if env == nil {
		return false
	}
	canon, err := CanonicalJSON(env.Data)
	if err != nil {
		return false
	}
	return Verify(env.PublicKey, canon, env.Signature)
}
