package gree

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	// DefaultKeyV1 is the generic key used for scan and bind with CipherV1.
	DefaultKeyV1 = "a3K8Bx%2r8Y7#xDh"
	// DefaultKeyV2 is the generic key used for scan and bind with CipherV2.
	DefaultKeyV2 = "{yxAHAY_Lm6pbC/<"

	gcmTagSize = 16
)

var (
	gcmNonce = []byte{0x54, 0x40, 0x78, 0x44, 0x49, 0x67, 0x5a, 0x51, 0x6c, 0x5e, 0x63, 0x13}
	gcmAAD   = []byte("qualcomm-test")
)

// Cipher encrypts and decrypts the pack field of an envelope.
//
// Encrypt marshals v as JSON and returns the base64 ciphertext plus an
// optional base64 authentication tag. Decrypt reverses it and unmarshals the
// plaintext into v.
type Cipher interface {
	Encrypt(v any) (pack string, tag string, err error)
	Decrypt(pack string, v any) error
	Key() string
	SetKey(key string)
	Name() string
}

type keyHolder struct {
	mu  sync.RWMutex
	key []byte
}

// Key returns the current key as text.
func (k *keyHolder) Key() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return string(k.key)
}

// SetKey installs a new key, typically the one negotiated during binding.
func (k *keyHolder) SetKey(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = []byte(key)
}

func (k *keyHolder) block() (cipher.Block, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	b, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return b, nil
}

// CipherV1 is AES-ECB with byte-value padding.
type CipherV1 struct {
	keyHolder
}

// NewCipherV1 returns a CipherV1 using the generic key.
func NewCipherV1() *CipherV1 {
	return NewCipherV1WithKey(DefaultKeyV1)
}

// NewCipherV1WithKey returns a CipherV1 using key.
func NewCipherV1WithKey(key string) *CipherV1 {
	c := &CipherV1{}
	c.SetKey(key)
	return c
}

// Name returns "v1".
func (c *CipherV1) Name() string { return "v1" }

// Encrypt implements Cipher.
func (c *CipherV1) Encrypt(v any) (string, string, error) {
	b, err := c.block()
	if err != nil {
		return "", "", err
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal pack: %w", err)
	}
	plain = pad(plain, aes.BlockSize)

	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		b.Encrypt(out[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}
	return base64.StdEncoding.EncodeToString(out), "", nil
}

// Decrypt implements Cipher.
func (c *CipherV1) Decrypt(pack string, v any) error {
	b, err := c.block()
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrDecryption, len(data), aes.BlockSize)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		b.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return unmarshalPlaintext(out, v)
}

// CipherV2 is AES-GCM with a fixed nonce and additional data.
type CipherV2 struct {
	keyHolder
}

// NewCipherV2 returns a CipherV2 using the generic key.
func NewCipherV2() *CipherV2 {
	return NewCipherV2WithKey(DefaultKeyV2)
}

// NewCipherV2WithKey returns a CipherV2 using key.
func NewCipherV2WithKey(key string) *CipherV2 {
	c := &CipherV2{}
	c.SetKey(key)
	return c
}

// Name returns "v2".
func (c *CipherV2) Name() string { return "v2" }

// Encrypt implements Cipher. The returned tag is the GCM authentication tag.
func (c *CipherV2) Encrypt(v any) (string, string, error) {
	b, err := c.block()
	if err != nil {
		return "", "", err
	}
	aead, err := cipher.NewGCM(b)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal pack: %w", err)
	}

	sealed := aead.Seal(nil, gcmNonce, plain, gcmAAD)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(tag), nil
}

// Decrypt implements Cipher. Devices do not reliably send a tag with their
// responses, so the payload is decrypted with the GCM keystream and is not
// authenticated.
func (c *CipherV2) Decrypt(pack string, v any) error {
	b, err := c.block()
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryption, err)
	}

	// GCM with a 96 bit nonce encrypts the first block with counter 2.
	iv := make([]byte, aes.BlockSize)
	copy(iv, gcmNonce)
	iv[aes.BlockSize-1] = 2

	out := make([]byte, len(data))
	cipher.NewCTR(b, iv).XORKeyStream(out, data)
	return unmarshalPlaintext(out, v)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unmarshalPlaintext drops anything after the last closing brace. Some
// firmware leaves padding or garbage behind the JSON document.
func unmarshalPlaintext(plain []byte, v any) error {
	end := bytes.LastIndexByte(plain, '}')
	if end < 0 {
		return fmt.Errorf("%w: no JSON object in plaintext", ErrDecryption)
	}
	if err := json.Unmarshal(plain[:end+1], v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return nil
}

// CipherByName returns a cipher for "v1" or "v2" initialised with key, or
// the generic key when key is empty.
func CipherByName(name, key string) (Cipher, error) {
	switch name {
	case "v1", "V1":
		if key == "" {
			key = DefaultKeyV1
		}
		return NewCipherV1WithKey(key), nil
	case "v2", "V2":
		if key == "" {
			key = DefaultKeyV2
		}
		return NewCipherV2WithKey(key), nil
	}
	return nil, fmt.Errorf("%w: unknown cipher %q", ErrConfiguration, name)
}
