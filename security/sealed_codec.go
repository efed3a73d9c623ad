package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-qbexport/core"
)

const (
	envelopePrefix = "qbexport.credential.v1:"
	envelopeAlg    = "aes-256-gcm"
	defaultKeyID   = "token-key"
	FormatSealedV1 = "credential_record_sealed_v1"
)

type Option func(*SealedCodec)

func WithKeyID(id string) Option {
	return func(codec *SealedCodec) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			codec.keyID = trimmed
		}
	}
}

// WithInner replaces the codec producing the sealed plaintext.
func WithInner(inner core.CredentialCodec) Option {
	return func(codec *SealedCodec) {
		if inner != nil {
			codec.inner = inner
		}
	}
}

// SealedCodec wraps another credential codec and seals its output with
// AES-GCM. Files written before a key was configured are still decoded so
// the next save upgrades them.
type SealedCodec struct {
	key   []byte
	keyID string
	inner core.CredentialCodec
}

type envelope struct {
	KeyID      string `json:"kid"`
	Algorithm  string `json:"alg"`
	Format     string `json:"fmt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func NewSealedCodec(keyMaterial string, opts ...Option) (*SealedCodec, error) {
	key := bytes.TrimSpace([]byte(keyMaterial))
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	codec := &SealedCodec{
		key:   normalizeKey(key),
		keyID: defaultKeyID,
		inner: core.JSONCredentialCodec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec, nil
}

func (c *SealedCodec) Format() string {
	return FormatSealedV1
}

func (c *SealedCodec) Encode(record core.CredentialRecord) ([]byte, error) {
	plaintext, err := c.inner.Encode(record)
	if err != nil {
		return nil, err
	}
	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	data, err := json.Marshal(envelope{
		KeyID:      c.keyID,
		Algorithm:  envelopeAlg,
		Format:     c.inner.Format(),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, []byte(c.keyID))),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (c *SealedCodec) Decode(raw []byte) (core.CredentialRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte(envelopePrefix)) {
		return c.inner.Decode(trimmed)
	}

	var parsed envelope
	if err := json.Unmarshal(bytes.TrimPrefix(trimmed, []byte(envelopePrefix)), &parsed); err != nil {
		return core.CredentialRecord{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	if parsed.KeyID != c.keyID {
		return core.CredentialRecord{}, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, c.keyID)
	}
	if parsed.Algorithm != envelopeAlg {
		return core.CredentialRecord{}, fmt.Errorf("security: unsupported algorithm %q", parsed.Algorithm)
	}
	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return core.CredentialRecord{}, fmt.Errorf("security: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return core.CredentialRecord{}, fmt.Errorf("security: decode ciphertext: %w", err)
	}
	gcm, err := c.aead()
	if err != nil {
		return core.CredentialRecord{}, err
	}
	if len(nonce) != gcm.NonceSize() {
		return core.CredentialRecord{}, fmt.Errorf("security: nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(c.keyID))
	if err != nil {
		return core.CredentialRecord{}, fmt.Errorf("security: open credential: %w", err)
	}
	return c.inner.Decode(plaintext)
}

func (c *SealedCodec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// normalizeKey keeps raw AES key sizes and hashes anything else to 32 bytes.
func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		return append([]byte(nil), value...)
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ core.CredentialCodec = (*SealedCodec)(nil)
