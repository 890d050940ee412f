// Package sign computes the five request-integrity header values attached to
// every remote call, and the ephemeral keypair used by the signature
// exchange stage.
//
// The signer is a pure function of its inputs. The byte sequences handed in
// as Query and BodyHex must be exactly the ones transmitted on the wire; any
// divergence produces signatures the server rejects.
package sign

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/emmansun/gmsm/sm3"
)

// emptyBodyStub is the x-ss-stub value for bodyless requests.
const emptyBodyStub = "00000000000000000000000000000000"

// Input carries everything the signer hashes over.
type Input struct {
	DeviceID  string
	Model     string
	Timestamp int64 // seconds; echoed as x-khronos
	SignCount int   // monotonically increasing is safer but not required
	Query     string
	BodyHex   string // hex of the body bytes; empty string for no body
}

// Headers are the five signing header values.
type Headers struct {
	Stub    string // x-ss-stub
	Khronos string // x-khronos
	Argus   string // x-argus
	Ladon   string // x-ladon
	Gorgon  string // x-gorgon
}

// Signer produces the integrity headers for one request.
type Signer interface {
	Sign(in Input) (Headers, error)
}

// HeaderSigner is the production signer.
type HeaderSigner struct{}

// New returns the production signer.
func New() *HeaderSigner {
	return &HeaderSigner{}
}

// fixed AES material for the argus/ladon envelopes
var (
	argusKey = []byte{
		0xac, 0x1a, 0xda, 0xfe, 0x95, 0x09, 0x33, 0x56,
		0x7e, 0x55, 0x6b, 0xc2, 0x2c, 0x4b, 0x9c, 0x1d,
	}
	ladonIV = []byte{
		0x62, 0x35, 0x3d, 0x2b, 0x9a, 0x49, 0x01, 0x2c,
		0x83, 0x7f, 0x41, 0x55, 0xb6, 0xd1, 0x28, 0x07,
	}
)

// Sign computes the header tuple. It never performs I/O.
func (s *HeaderSigner) Sign(in Input) (Headers, error) {
	body, err := hex.DecodeString(in.BodyHex)
	if err != nil {
		return Headers{}, fmt.Errorf("sign: body hex: %w", err)
	}

	stub := emptyBodyStub
	if len(body) > 0 {
		sum := md5.Sum(body)
		stub = hex.EncodeToString(sum[:])
	}
	khronos := strconv.FormatInt(in.Timestamp, 10)

	gorgon := s.gorgon(in, stub, khronos)
	ladon, err := s.ladon(in, khronos)
	if err != nil {
		return Headers{}, err
	}
	argus, err := s.argus(in, body)
	if err != nil {
		return Headers{}, err
	}

	return Headers{
		Stub:    stub,
		Khronos: khronos,
		Argus:   argus,
		Ladon:   ladon,
		Gorgon:  gorgon,
	}, nil
}

// gorgon derives a 44-hex-char value from the query digest, the body stub
// and the timestamp, scrambled through an RC4-style sbox keyed on khronos.
func (s *HeaderSigner) gorgon(in Input, stub, khronos string) string {
	qsum := md5.Sum([]byte(in.Query))
	stubBytes, _ := hex.DecodeString(stub)

	payload := make([]byte, 0, 20)
	payload = append(payload, qsum[:8]...)
	payload = append(payload, stubBytes[:8]...)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(in.Timestamp))
	payload = append(payload, ts[:]...)

	scramble(payload, []byte(khronos))
	return "0404b0d30000" + hex.EncodeToString(payload)
}

// ladon encrypts "<ts>-<count>-<device_id>" under an md5-derived key.
func (s *HeaderSigner) ladon(in Input, khronos string) (string, error) {
	keySum := md5.Sum([]byte(khronos + in.DeviceID))
	block, err := aes.NewCipher(keySum[:])
	if err != nil {
		return "", fmt.Errorf("sign: ladon cipher: %w", err)
	}
	plain := pkcs7(fmt.Appendf(nil, "%d-%d-%s", in.Timestamp, in.SignCount, in.DeviceID), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, ladonIV).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

// argus digests the full request context with sm3 and seals it with AES-CBC.
func (s *HeaderSigner) argus(in Input, body []byte) (string, error) {
	h := sm3.New()
	h.Write([]byte(in.Query))
	h.Write(body)
	h.Write([]byte(in.DeviceID))
	h.Write([]byte(in.Model))
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[:8], uint64(in.Timestamp))
	binary.BigEndian.PutUint32(meta[8:], uint32(in.SignCount))
	h.Write(meta[:])
	digest := h.Sum(nil)

	block, err := aes.NewCipher(argusKey)
	if err != nil {
		return "", fmt.Errorf("sign: argus cipher: %w", err)
	}
	plain := pkcs7(append(meta[:], digest...), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, ladonIV).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

// scramble applies an RC4-style keyed permutation in place.
func scramble(data, key []byte) {
	var sbox [256]byte
	for i := range sbox {
		sbox[i] = byte(i)
	}
	j := 0
	for i := 0; i < 256; i++ {
		j = (j + int(sbox[i]) + int(key[i%len(key)])) % 256
		sbox[i], sbox[j] = sbox[j], sbox[i]
	}
	x, y := 0, 0
	for i := range data {
		x = (x + 1) % 256
		y = (y + int(sbox[x])) % 256
		sbox[x], sbox[y] = sbox[y], sbox[x]
		data[i] ^= sbox[(int(sbox[x])+int(sbox[y]))%256]
	}
}

func pkcs7(b []byte, size int) []byte {
	pad := size - len(b)%size
	for i := 0; i < pad; i++ {
		b = append(b, byte(pad))
	}
	return b
}
