package sign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Keypair is the ephemeral P-256 pair generated once per registration
// attempt. The public half travels in the tt-ticket-guard-public-key header;
// the private half is stored with the provisioned device.
type Keypair struct {
	// PublicB64 is the uncompressed point 04 || X(32) || Y(32), base64.
	PublicB64 string
	// PrivateHex is the scalar as 32 big-endian bytes, hex.
	PrivateHex string
}

// GenerateKeypair mints a fresh P-256 keypair in the canonical encodings.
func GenerateKeypair() (*Keypair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}

	uncompressed := make([]byte, 0, 65)
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, leftPad(priv.PublicKey.X.Bytes(), 32)...)
	uncompressed = append(uncompressed, leftPad(priv.PublicKey.Y.Bytes(), 32)...)

	return &Keypair{
		PublicB64:  base64.StdEncoding.EncodeToString(uncompressed),
		PrivateHex: hex.EncodeToString(leftPad(priv.D.Bytes(), 32)),
	}, nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
