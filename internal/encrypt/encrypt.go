package encrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fmueller/audiotext/internal/failure"
)

const KeyEnv = "AUDIOTEXT_ENCRYPTION_KEY"

var (
	ErrInvalidKey     = errors.New("key must be 16, 24 or 32 bytes")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidPadding = errors.New("invalid padding")
)

// Encryptor round-trips text through an opaque printable payload.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(payload string) (string, error)
}

// AESEncryptor is AES-CBC with PKCS#7 padding. Payloads are
// base64(IV || ciphertext) with a fresh random IV per call.
type AESEncryptor struct {
	block  cipher.Block
	random io.Reader
}

// NewAES copies key; later changes to the caller's slice have no effect.
func NewAES(key []byte) (*AESEncryptor, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, failure.Wrap(failure.CryptoError, "new cipher", fmt.Errorf("%w: got %d", ErrInvalidKey, len(key)))
	}

	owned := bytes.Clone(key)
	block, err := aes.NewCipher(owned)
	if err != nil {
		return nil, failure.Wrap(failure.CryptoError, "new cipher", err)
	}
	return &AESEncryptor{block: block, random: rand.Reader}, nil
}

func (e *AESEncryptor) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return "", failure.Wrap(failure.CryptoError, "generate iv", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(e.block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

func (e *AESEncryptor) Decrypt(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", failure.Wrap(failure.CryptoError, "decode payload", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	if len(raw) < aes.BlockSize {
		return "", failure.Wrap(failure.CryptoError, "decrypt", fmt.Errorf("%w: shorter than the %d-byte IV", ErrInvalidPayload, aes.BlockSize))
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", failure.Wrap(failure.CryptoError, "decrypt", fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrInvalidPayload))
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(e.block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return "", failure.Wrap(failure.CryptoError, "decrypt", err)
	}
	return string(unpadded), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}

// ParseKey accepts a raw 16/24/32 character key or "base64:" followed by an
// encoded key of one of those lengths.
func ParseKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, failure.Wrap(failure.CryptoError, "parse key", errors.New("key is empty"))
	}

	var key []byte
	if encoded, ok := strings.CutPrefix(value, "base64:"); ok {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, failure.Wrap(failure.CryptoError, "parse key", fmt.Errorf("decode base64 key: %w", err))
		}
		key = decoded
	} else {
		key = []byte(value)
	}

	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, failure.Wrap(failure.CryptoError, "parse key", fmt.Errorf("%w: got %d", ErrInvalidKey, len(key)))
	}
}

// KeyFromEnv reads the key from $AUDIOTEXT_ENCRYPTION_KEY.
func KeyFromEnv() ([]byte, error) {
	value, ok := os.LookupEnv(KeyEnv)
	if !ok || strings.TrimSpace(value) == "" {
		return nil, failure.Wrap(failure.CryptoError, "load key", fmt.Errorf("%s is not set", KeyEnv))
	}
	return ParseKey(value)
}
