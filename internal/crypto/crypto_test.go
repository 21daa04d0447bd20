package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestMD5Hex(t *testing.T) {
	if got := MD5Hex("md5 test"); got != "2e5f9458bcd27e3c2b5908af0b91551a" {
		t.Fatalf("MD5Hex: got %s", got)
	}
	if got := MD5Hex(""); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("MD5Hex(empty): got %s", got)
	}
}

func TestCBCRoundTrip(t *testing.T) {
	input := []byte("aes256 encryt test")
	cases := []struct{ key, iv string }{
		{"123124125", "123124252345"},
		{"asdfijapsodifjp", "asjdfhaisuhpin"},
		{"asojfigsopnhodkfpgih", "as65d4fa684fd6asd1f5as9d5f19"},
		{"as9df4a98d4fa6sd1fa62s1d9f4asdf", "as98d7as95d1a6s2d1a6s5d4as8d9a8sd4"},
		{strings.Repeat("as9df4a98d4fa6sd1fa62s1d9f4asdf", 3), strings.Repeat("as98d7as95d1a6s2d1a6s5d4as8d9a8sd4", 3)},
		{"", ""},
	}
	for _, tc := range cases {
		encrypted, err := EncryptCBC(input, tc.key, tc.iv)
		if err != nil {
			t.Fatalf("encrypt(%q): %v", tc.key, err)
		}
		if len(encrypted)%IVSize != 0 {
			t.Fatalf("ciphertext length %d not block aligned", len(encrypted))
		}
		decrypted, err := DecryptCBC(encrypted, tc.key, tc.iv)
		if err != nil {
			t.Fatalf("decrypt(%q): %v", tc.key, err)
		}
		if !bytes.Equal(decrypted, input) {
			t.Fatalf("round trip mismatch for key %q: got %q", tc.key, decrypted)
		}
	}
}

func TestCBCBlockAlignedInput(t *testing.T) {
	input := bytes.Repeat([]byte{'x'}, 32)
	encrypted, err := EncryptCBC(input, "k", "i")
	if err != nil {
		t.Fatal(err)
	}
	if len(encrypted) != 48 {
		t.Fatalf("expected a full padding block, got %d bytes", len(encrypted))
	}
	decrypted, err := DecryptCBC(encrypted, "k", "i")
	if err != nil || !bytes.Equal(decrypted, input) {
		t.Fatalf("round trip failed: %v", err)
	}
}

func TestCBCKeyPadding(t *testing.T) {
	// A short key is zero-padded, so spelling the padding out is equivalent.
	short, err := EncryptCBC([]byte("payload"), "abc", "iv")
	if err != nil {
		t.Fatal(err)
	}
	long, err := EncryptCBC([]byte("payload"), "abc"+strings.Repeat("\x00", 29), "iv"+strings.Repeat("\x00", 14))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(short, long) {
		t.Fatal("zero padding of key/iv is not applied")
	}

	// Bytes past 32 are ignored.
	key := strings.Repeat("k", 32)
	a, _ := EncryptCBC([]byte("payload"), key, "iv")
	b, _ := EncryptCBC([]byte("payload"), key+"extra", "iv")
	if !bytes.Equal(a, b) {
		t.Fatal("key is not truncated to 32 bytes")
	}
}

func TestCBCMismatchedKey(t *testing.T) {
	input := []byte("the quick brown fox jumps over the lazy dog")
	encrypted, err := EncryptCBC(input, "right-key", "right-iv")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptCBC(encrypted, "wrong-key", "right-iv")
	if err == nil && bytes.Equal(got, input) {
		t.Fatal("decrypt with wrong key returned the plaintext")
	}
	got, err = DecryptCBC(encrypted, "right-key", "wrong-iv")
	if err == nil && bytes.Equal(got, input) {
		t.Fatal("decrypt with wrong iv returned the plaintext")
	}
}

func TestCBCMalformedCiphertext(t *testing.T) {
	for _, ct := range [][]byte{nil, {}, make([]byte, 15), make([]byte, 17)} {
		if _, err := DecryptCBC(ct, "k", "i"); !errors.Is(err, ErrCiphertextSize) {
			t.Fatalf("len %d: expected ErrCiphertextSize, got %v", len(ct), err)
		}
	}
}

func TestAEADRoundTrip(t *testing.T) {
	c, err := NewAEAD("secret", "salt")
	if err != nil {
		t.Fatal(err)
	}
	input := []byte("terminal bytes")
	sealed, err := c.Encrypt(input)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, input) {
		t.Fatalf("got %q", opened)
	}

	again, _ := c.Encrypt(input)
	if bytes.Equal(again, sealed) {
		t.Fatal("nonce reuse: two seals of the same plaintext are identical")
	}
}

func TestAEADDetectsTampering(t *testing.T) {
	c, err := NewAEAD("secret", "salt")
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := c.Encrypt([]byte("rm -rf"))
	sealed[len(sealed)-1] ^= 0x01
	if _, err := c.Decrypt(sealed); err == nil {
		t.Fatal("tampered payload should not open")
	}

	other, _ := NewAEAD("secret", "other-salt")
	fresh, _ := c.Encrypt([]byte("ls"))
	if _, err := other.Decrypt(fresh); err == nil {
		t.Fatal("payload opened under a different derived key")
	}

	if _, err := c.Decrypt([]byte{1, 2}); !errors.Is(err, ErrShortSealed) {
		t.Fatalf("expected ErrShortSealed, got %v", err)
	}
}

func TestCBCCipherInterface(t *testing.T) {
	var c Cipher = NewCBC("key", "iv")
	sealed, err := c.Encrypt([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	opened, err := c.Decrypt(sealed)
	if err != nil || string(opened) != "abc" {
		t.Fatalf("got %q, %v", opened, err)
	}
}

func FuzzDecryptCBC(f *testing.F) {
	f.Add(make([]byte, 16), "k", "i")
	f.Add([]byte{1, 2, 3}, "", "")
	f.Fuzz(func(t *testing.T, data []byte, key, iv string) {
		DecryptCBC(data, key, iv)
	})
}

func FuzzRoundTripCBC(f *testing.F) {
	f.Add([]byte("hello"), "key", "iv")
	f.Add([]byte{}, "", "")
	f.Fuzz(func(t *testing.T, plain []byte, key, iv string) {
		ct, err := EncryptCBC(plain, key, iv)
		if err != nil {
			t.Fatal(err)
		}
		pt, err := DecryptCBC(ct, key, iv)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pt, plain) {
			t.Fatalf("mismatch: got %d bytes, want %d", len(pt), len(plain))
		}
	})
}
