package cwc

import (
	"bytes"
	"testing"
)

func mustCipher(t *testing.T, key []byte) *Cipher {
	t.Helper()
	c, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"single byte", []byte{0x1}},
		{"short", []byte("hi")},
		{"one block", bytes.Repeat([]byte{0x42}, 16)},
		{"multi block", bytes.Repeat([]byte{0x7}, 100)},
	}

	key := bytes.Repeat([]byte{0xAB}, 16)
	c := mustCipher(t, key)

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			framed, err := c.Encrypt(test.plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if len(framed) != IVSize+TagSize+len(test.plaintext) {
				t.Fatalf("framed length = %d, want %d", len(framed), IVSize+TagSize+len(test.plaintext))
			}

			got, err := c.Decrypt(framed)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, test.plaintext) {
				t.Fatalf("round trip = %x, want %x", got, test.plaintext)
			}
		})
	}
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	c := mustCipher(t, bytes.Repeat([]byte{0x01}, 16))

	framed, err := c.Encrypt([]byte("authenticate me"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	framed[IVSize] ^= 0xFF // flip a bit in the tag

	if _, err := c.Decrypt(framed); err == nil {
		t.Fatal("Decrypt succeeded with a tampered tag")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := mustCipher(t, bytes.Repeat([]byte{0x02}, 16))

	framed, err := c.Encrypt([]byte("authenticate me too"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	framed[len(framed)-1] ^= 0xFF

	if _, err := c.Decrypt(framed); err == nil {
		t.Fatal("Decrypt succeeded with tampered ciphertext")
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	c := mustCipher(t, bytes.Repeat([]byte{0x03}, 16))

	if _, err := c.Decrypt(make([]byte, IVSize+TagSize-1)); err == nil {
		t.Fatal("Decrypt accepted an input shorter than IV+TAG")
	}
}

func TestEncryptUsesRandomIV(t *testing.T) {
	c := mustCipher(t, bytes.Repeat([]byte{0x04}, 16))

	a, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext produced identical output")
	}
}

func TestNewPadsShortKeys(t *testing.T) {
	if _, err := New([]byte("short")); err != nil {
		t.Fatalf("New with short key: %v", err)
	}
	if _, err := New(nil); err != nil {
		t.Fatalf("New with nil key: %v", err)
	}
}
