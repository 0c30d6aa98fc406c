package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"whatslog/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envEnableEncryption = "WHATSLOG_ENABLE_ENCRYPTION"
	envEncryptionSecret = "WHATSLOG_ENCRYPTION_SECRET"
	envEncryptionSalt   = "WHATSLOG_ENCRYPTION_SALT"
	envLookupSalt       = "WHATSLOG_ENCRYPTION_LOOKUP_SALT"
)

const (
	aesKeySize       = 32
	gcmNonceSize     = 12
	pbkdf2Iterations = 100000
)

var errCiphertextTooShort = errors.New("ciphertext shorter than nonce")

// cipherSettings is the encryption setup read from the environment.
type cipherSettings struct {
	Enabled    bool
	Secret     string
	Salt       []byte
	LookupSalt []byte
}

func cipherSettingsFromEnv() cipherSettings {
	return cipherSettings{
		Enabled:    os.Getenv(envEnableEncryption) == "true",
		Secret:     os.Getenv(envEncryptionSecret),
		Salt:       saltOrDefault(os.Getenv(envEncryptionSalt), constants.EncryptionSalt),
		LookupSalt: saltOrDefault(os.Getenv(envLookupSalt), constants.EncryptionLookupSalt),
	}
}

func saltOrDefault(value, fallback string) []byte {
	if len(value) >= constants.MinEncryptionSaltLen {
		return []byte(value)
	}
	return []byte(fallback)
}

// columnCipher encrypts individual column values with AES-256-GCM. Stored
// values are base64(nonce || sealed). A zero columnCipher passes values
// through unchanged.
type columnCipher struct {
	aead       cipher.AEAD
	lookupSalt []byte
}

func newColumnCipher(settings cipherSettings) (*columnCipher, error) {
	if !settings.Enabled {
		return &columnCipher{}, nil
	}
	if settings.Secret == "" {
		return nil, fmt.Errorf("%s is required when encryption is enabled", envEncryptionSecret)
	}
	if len(settings.Secret) < constants.MinEncryptionSecretLen {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecretLen)
	}

	key := pbkdf2.Key([]byte(settings.Secret), settings.Salt, pbkdf2Iterations, aesKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &columnCipher{aead: aead, lookupSalt: settings.LookupSalt}, nil
}

func (c *columnCipher) active() bool {
	return c != nil && c.aead != nil
}

// seal encrypts value with a random nonce.
func (c *columnCipher) seal(value string) (string, error) {
	if value == "" || !c.active() {
		return value, nil
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.encode(nonce, value), nil
}

// sealLookup derives the nonce from value so equal inputs produce equal
// output, which keeps WHERE and GROUP BY on the column working.
// #nosec G407 - deterministic nonce is required for searchable encryption
func (c *columnCipher) sealLookup(value string) (string, error) {
	if value == "" || !c.active() {
		return value, nil
	}
	digest := sha256.Sum256(append([]byte(value), c.lookupSalt...))
	return c.encode(digest[:gcmNonceSize], value), nil
}

func (c *columnCipher) encode(nonce []byte, value string) string {
	out := make([]byte, len(nonce), len(nonce)+len(value)+c.aead.Overhead())
	copy(out, nonce)
	out = c.aead.Seal(out, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(out)
}

func (c *columnCipher) open(stored string) (string, error) {
	if stored == "" || !c.active() {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decode column value: %w", err)
	}
	if len(raw) < gcmNonceSize {
		return "", errCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt column value: %w", err)
	}
	return string(plain), nil
}

// sealNullable keeps NULL as NULL.
func (c *columnCipher) sealNullable(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := c.seal(*value)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *columnCipher) openNullable(value sql.NullString) (*string, error) {
	if !value.Valid {
		return nil, nil
	}
	out, err := c.open(value.String)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
