package protocol

import (
	"fmt"
	"sync"

	"github.com/chronologos/terminus/internal/crypto"
)

// EnvelopeMode selects the cipher behind Encrypted frames.
type EnvelopeMode int

const (
	// EnvelopeCBC is AES-256-CBC without an integrity check.
	EnvelopeCBC EnvelopeMode = iota
	// EnvelopeAEAD is ChaCha20-Poly1305; tampered frames fail to open.
	EnvelopeAEAD
)

func (m EnvelopeMode) String() string {
	switch m {
	case EnvelopeCBC:
		return "aes-256-cbc"
	case EnvelopeAEAD:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// Parser decodes frames and opens Encrypted envelopes with its configured
// key and IV. It is safe for concurrent use; SetKey and SetIV affect only
// parses that start after they return.
type Parser struct {
	mu     sync.RWMutex
	mode   EnvelopeMode
	key    string
	iv     string
	cipher crypto.Cipher
}

// NewParser returns a Parser using the given envelope cipher and key
// material.
func NewParser(mode EnvelopeMode, key, iv string) (*Parser, error) {
	c, err := newCipher(mode, key, iv)
	if err != nil {
		return nil, err
	}
	return &Parser{mode: mode, key: key, iv: iv, cipher: c}, nil
}

func newCipher(mode EnvelopeMode, key, iv string) (crypto.Cipher, error) {
	switch mode {
	case EnvelopeCBC:
		return crypto.NewCBC(key, iv), nil
	case EnvelopeAEAD:
		return crypto.NewAEAD(key, iv)
	default:
		return nil, fmt.Errorf("unsupported envelope mode %d", mode)
	}
}

// SetKey replaces the envelope key. On error the parser keeps its previous
// key and cipher.
func (p *Parser) SetKey(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := newCipher(p.mode, key, p.iv)
	if err != nil {
		return err
	}
	p.key, p.cipher = key, c
	return nil
}

// SetIV replaces the envelope IV (the HKDF salt in AEAD mode). On error the
// parser keeps its previous IV and cipher.
func (p *Parser) SetIV(iv string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := newCipher(p.mode, p.key, iv)
	if err != nil {
		return err
	}
	p.iv, p.cipher = iv, c
	return nil
}

// Mode returns the envelope cipher in use.
func (p *Parser) Mode() EnvelopeMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

func (p *Parser) current() crypto.Cipher {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cipher
}

// Parse decodes frame. Encrypted frames are decrypted and the plaintext is
// parsed as a fresh frame, at most MaxUnwrapDepth levels deep.
func (p *Parser) Parse(frame []byte) (Message, error) {
	return p.parse(frame, p.current(), 0)
}

func (p *Parser) parse(frame []byte, c crypto.Cipher, depth int) (Message, error) {
	msg, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	env, ok := msg.(*Encrypted)
	if !ok {
		return msg, nil
	}
	if depth >= MaxUnwrapDepth {
		return nil, ErrNestingTooDeep
	}
	plain, err := c.Decrypt(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return p.parse(plain, c, depth+1)
}

// Seal encrypts the encoded form of m into an Encrypted envelope.
func (p *Parser) Seal(m Message) (*Encrypted, error) {
	if _, ok := m.(*Encrypted); ok {
		return nil, ErrNestingTooDeep
	}
	plain, err := Encode(m)
	if err != nil {
		return nil, err
	}
	ct, err := p.current().Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", m.Tag(), err)
	}
	if len(ct) > MaxCiphertextSize {
		return nil, fmt.Errorf("seal %s: %w", m.Tag(), ErrFieldTooLarge)
	}
	return &Encrypted{Ciphertext: ct}, nil
}

// SealFrame seals m and returns the encoded envelope frame.
func (p *Parser) SealFrame(m Message) ([]byte, error) {
	env, err := p.Seal(m)
	if err != nil {
		return nil, err
	}
	return Encode(env)
}
