package sign

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func sampleInput() Input {
	return Input{
		DeviceID:  "7566195049035286030",
		Model:     "Pixel 7",
		Timestamp: 1761217864,
		SignCount: 25,
		Query:     "aid=1233&device_platform=android&ts=1761217864",
		BodyHex:   hex.EncodeToString([]byte(`{"magic_tag":"ss_app_log"}`)),
	}
}

func TestSignDeterministic(t *testing.T) {
	s := New()
	in := sampleInput()

	h1, err := s.Sign(in)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	h2, err := s.Sign(in)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("Sign() not deterministic:\n%+v\n%+v", h1, h2)
	}
}

func TestSignStub(t *testing.T) {
	s := New()

	in := sampleInput()
	h, err := s.Sign(in)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	body, _ := hex.DecodeString(in.BodyHex)
	sum := md5.Sum(body)
	if h.Stub != hex.EncodeToString(sum[:]) {
		t.Errorf("Stub = %q, want md5 of body bytes", h.Stub)
	}

	in.BodyHex = ""
	h, err = s.Sign(in)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if h.Stub != emptyBodyStub {
		t.Errorf("Stub for empty body = %q, want %q", h.Stub, emptyBodyStub)
	}
}

func TestSignKhronosEchoesTimestamp(t *testing.T) {
	h, err := New().Sign(sampleInput())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if h.Khronos != "1761217864" {
		t.Errorf("Khronos = %q, want seconds echo", h.Khronos)
	}
}

func TestSignSensitiveToInputs(t *testing.T) {
	s := New()
	base := sampleInput()
	baseH, err := s.Sign(base)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"query", func(in *Input) { in.Query += "&x=1" }},
		{"body", func(in *Input) { in.BodyHex = hex.EncodeToString([]byte("{}")) }},
		{"device_id", func(in *Input) { in.DeviceID = "1" }},
		{"sign_count", func(in *Input) { in.SignCount++ }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			h, err := s.Sign(in)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if h.Argus == baseH.Argus && h.Gorgon == baseH.Gorgon && h.Ladon == baseH.Ladon {
				t.Error("mutating input did not change any signed header")
			}
		})
	}
}

func TestSignRejectsBadBodyHex(t *testing.T) {
	in := sampleInput()
	in.BodyHex = "zz"
	if _, err := New().Sign(in); err == nil {
		t.Error("Sign() should reject invalid body hex")
	}
}

func TestGorgonFormat(t *testing.T) {
	h, err := New().Sign(sampleInput())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !strings.HasPrefix(h.Gorgon, "0404b0d30000") {
		t.Errorf("Gorgon = %q, want 0404b0d30000 prefix", h.Gorgon)
	}
	if len(h.Gorgon) != len("0404b0d30000")+40 {
		t.Errorf("Gorgon length = %d", len(h.Gorgon))
	}
}

func TestGenerateKeypair(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	pub, err := base64.StdEncoding.DecodeString(kp.PublicB64)
	if err != nil {
		t.Fatalf("public key not base64: %v", err)
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		t.Errorf("public key = %d bytes with prefix %#x, want 65 bytes starting 0x04", len(pub), pub[0])
	}

	priv, err := hex.DecodeString(kp.PrivateHex)
	if err != nil {
		t.Fatalf("private key not hex: %v", err)
	}
	if len(priv) != 32 {
		t.Errorf("private key = %d bytes, want 32", len(priv))
	}

	kp2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	if kp.PrivateHex == kp2.PrivateHex {
		t.Error("two generated keypairs share a private key")
	}
}
