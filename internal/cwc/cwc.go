// Package cwc implements the Carter-Wegman + Counter (CWC) authenticated
// encryption mode used by the FRPG2 game client. CWC predates the
// standardization of AES-GCM but is built from the same ingredients: AES in
// counter mode for confidentiality, and a polynomial universal hash
// evaluated in GF(2^128) for authentication. There is no maintained Go
// package for legacy CWC (golang.org/x/crypto only ships the modern
// chacha20poly1305 and GCM-family AEADs), so this is built directly on
// crypto/aes and crypto/subtle.
//
// TODO(capture): confirm the precise tag/counter byte layout against a
// packet capture before treating this as wire-compatible with a real
// client.
package cwc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"

	"github.com/pkg/errors"
)

// IVSize is the length in bytes of the random IV prepended to every
// encrypted datagram.
const IVSize = 11

// TagSize is the length in bytes of the authentication tag appended
// immediately after the IV.
const TagSize = 16

// ErrCiphertextTooShort is returned by Decrypt when the input cannot
// possibly contain an IV, a tag, and at least one byte of ciphertext.
var ErrCiphertextTooShort = errors.New("cwc: ciphertext shorter than IV+tag+1")

// ErrAuthenticationFailed is returned by Decrypt when the tag does not
// verify, meaning the datagram was corrupted, truncated, or forged.
var ErrAuthenticationFailed = errors.New("cwc: authentication tag mismatch")

// Cipher is a keyed CWC context. A Cipher is immutable once constructed
// and safe for concurrent use; the game protocol binds exactly one Cipher
// to the lifetime of a single reliable stream.
type Cipher struct {
	block cipher.Block
	hKey  [16]byte // polynomial hash subkey, derived like GHASH's H
}

// New builds a Cipher from an opaque session key, typically 16 bytes,
// established out-of-band by the login service.
func New(sessionKey []byte) (*Cipher, error) {
	block, err := aes.NewCipher(padOrTruncateKey(sessionKey))
	if err != nil {
		return nil, errors.Wrap(err, "cwc: initializing AES block cipher")
	}

	c := &Cipher{block: block}
	block.Encrypt(c.hKey[:], make([]byte, 16))
	return c, nil
}

// padOrTruncateKey coerces an arbitrary-length session key into a valid
// AES key size. The login service hands out 16-byte keys in practice; this
// keeps New tolerant of shorter test keys.
func padOrTruncateKey(key []byte) []byte {
	out := make([]byte, 16)
	copy(out, key)
	return out
}

// Encrypt generates a fresh random IV and authentication tag and returns
// IV ∥ TAG ∥ CIPHERTEXT. It fails only if the system random source errors,
// which callers must treat as fatal for the owning connection.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "cwc: reading random IV")
	}

	ciphertext := make([]byte, len(plaintext))
	c.xorKeystream(iv, plaintext, ciphertext)

	tag := c.tag(iv, ciphertext)

	out := make([]byte, IVSize+TagSize+len(ciphertext))
	copy(out, iv)
	copy(out[IVSize:], tag[:])
	copy(out[IVSize+TagSize:], ciphertext)
	return out, nil
}

// Decrypt verifies the tag and returns the plaintext. It fails if the
// input is too short to contain an IV, tag, and payload, or if the tag
// does not verify.
func (c *Cipher) Decrypt(framed []byte) ([]byte, error) {
	if len(framed) < IVSize+TagSize+1 {
		return nil, ErrCiphertextTooShort
	}

	iv := framed[:IVSize]
	wantTag := framed[IVSize : IVSize+TagSize]
	ciphertext := framed[IVSize+TagSize:]

	gotTag := c.tag(iv, ciphertext)
	if subtle.ConstantTimeCompare(gotTag[:], wantTag) != 1 {
		return nil, ErrAuthenticationFailed
	}

	plaintext := make([]byte, len(ciphertext))
	c.xorKeystream(iv, ciphertext, plaintext)
	return plaintext, nil
}

// xorKeystream runs AES-CTR seeded from the 11-byte IV padded out to a
// 16-byte initial counter block, counter starting at 1 (the counter-zero
// block for this IV is reserved for the tag mask computed in tag).
func (c *Cipher) xorKeystream(iv, src, dst []byte) {
	var counterBlock [16]byte
	copy(counterBlock[:IVSize], iv)
	binary.BigEndian.PutUint32(counterBlock[12:], 1)

	stream := cipher.NewCTR(c.block, counterBlock[:])
	stream.XORKeyStream(dst, src)
}

// tag computes the Carter-Wegman polynomial MAC over the IV-bound
// ciphertext, evaluated in GF(2^128) the same way GHASH is, then masks the
// result with an encrypted counter-zero block so the tag cannot be used to
// recover the raw polynomial value.
func (c *Cipher) tag(iv, ciphertext []byte) [16]byte {
	h := c.hKey

	var y [16]byte
	for off := 0; off < len(ciphertext); off += 16 {
		end := off + 16
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		var block [16]byte
		copy(block[:], ciphertext[off:end])
		xorInto(&y, &block)
		y = gf128Mul(y, h)
	}

	var lenBlock [16]byte
	binary.BigEndian.PutUint64(lenBlock[8:], uint64(len(ciphertext))*8)
	xorInto(&y, &lenBlock)
	y = gf128Mul(y, h)

	var mask [16]byte
	var counterZero [16]byte
	copy(counterZero[:IVSize], iv)
	c.block.Encrypt(mask[:], counterZero[:])

	var out [16]byte
	xorBytesInto(&out, y[:], mask[:])
	return out
}

func xorInto(dst *[16]byte, src *[16]byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func xorBytesInto(dst *[16]byte, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// gf128Mul multiplies two elements of GF(2^128) using the same
// reduction polynomial (x^128 + x^7 + x^2 + x + 1) as GHASH.
func gf128Mul(x, y [16]byte) [16]byte {
	var z, v [16]byte
	copy(v[:], y[:])

	for i := 0; i < 128; i++ {
		bit := x[i/8] & (0x80 >> uint(i%8))
		if bit != 0 {
			xorInto(&z, &v)
		}

		lsbSet := v[15]&1 != 0
		shiftRight(&v)
		if lsbSet {
			v[0] ^= 0xe1
		}
	}

	return z
}

func shiftRight(v *[16]byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		next := v[i] & 1
		v[i] = (v[i] >> 1) | (carry << 7)
		carry = next
	}
}
