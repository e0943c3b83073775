package gree

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherV1_RoundTrip(t *testing.T) {
	c := NewCipherV1()
	in := map[string]any{"t": "status", "mac": "aabbcc", "cols": []any{"Pow", "Mod"}}

	pack, tag, err := c.Encrypt(in)
	require.NoError(t, err)
	assert.Empty(t, tag)

	var out map[string]any
	require.NoError(t, c.Decrypt(pack, &out))
	assert.Equal(t, in, out)
}

func TestCipherV1_Padding(t *testing.T) {
	c := NewCipherV1()

	pack, _, err := c.Encrypt(json.RawMessage(`{}`))
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(pack)
	require.NoError(t, err)
	assert.Len(t, raw, aes.BlockSize)

	// A block aligned plaintext still gets a full block of padding.
	pack, _, err = c.Encrypt(json.RawMessage(`{"t":"abcdefgh"}`))
	require.NoError(t, err)
	raw, err = base64.StdEncoding.DecodeString(pack)
	require.NoError(t, err)
	assert.Len(t, raw, 2*aes.BlockSize)
}

func TestPad(t *testing.T) {
	assert.Equal(t, []byte{'a', 3, 3, 3}, pad([]byte("a"), 4))
	assert.Equal(t, []byte{'a', 'b', 'c', 'd', 4, 4, 4, 4}, pad([]byte("abcd"), 4))
}

func TestCipherV1_TrailingGarbage(t *testing.T) {
	b, err := aes.NewCipher([]byte(DefaultKeyV1))
	require.NoError(t, err)

	plain := []byte(`{"t":"dat"}` + "\x00\x00garbage\x01")
	plain = append(plain, make([]byte, 2*aes.BlockSize-len(plain))...)
	ct := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		b.Encrypt(ct[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}

	var out map[string]any
	err = NewCipherV1().Decrypt(base64.StdEncoding.EncodeToString(ct), &out)
	require.NoError(t, err)
	assert.Equal(t, "dat", out["t"])
}

func TestCipherV1_WrongKey(t *testing.T) {
	pack, _, err := NewCipherV1().Encrypt(map[string]string{"t": "bind"})
	require.NoError(t, err)

	var out map[string]any
	err = NewCipherV1WithKey("0123456789abcdef").Decrypt(pack, &out)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestCipherV1_InvalidInput(t *testing.T) {
	c := NewCipherV1()
	var out map[string]any

	assert.ErrorIs(t, c.Decrypt("not base64!", &out), ErrDecryption)
	assert.ErrorIs(t, c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), &out), ErrDecryption)
	assert.ErrorIs(t, c.Decrypt("", &out), ErrDecryption)
}

func TestCipherV1_InvalidKey(t *testing.T) {
	_, _, err := NewCipherV1WithKey("short").Encrypt(map[string]string{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCipherV2_RoundTrip(t *testing.T) {
	c := NewCipherV2()
	in := map[string]any{"t": "bind", "mac": "aabbcc", "uid": float64(0)}

	pack, tag, err := c.Encrypt(in)
	require.NoError(t, err)
	require.NotEmpty(t, tag)

	rawTag, err := base64.StdEncoding.DecodeString(tag)
	require.NoError(t, err)
	assert.Len(t, rawTag, gcmTagSize)

	var out map[string]any
	require.NoError(t, c.Decrypt(pack, &out))
	assert.Equal(t, in, out)
}

func TestCipherV2_CiphertextMatchesPlaintextLength(t *testing.T) {
	c := NewCipherV2()
	plain := `{"t":"status","cols":["Pow"]}`

	pack, _, err := c.Encrypt(json.RawMessage(plain))
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(pack)
	require.NoError(t, err)
	assert.Len(t, raw, len(plain))
}

func TestCipherV2_SessionKey(t *testing.T) {
	c := NewCipherV2()
	c.SetKey("0123456789abcdef")
	assert.Equal(t, "0123456789abcdef", c.Key())

	pack, _, err := c.Encrypt(map[string]string{"t": "cmd"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, NewCipherV2WithKey("0123456789abcdef").Decrypt(pack, &out))
	assert.Equal(t, "cmd", out["t"])
}

func TestCipherByName(t *testing.T) {
	c, err := CipherByName("v1", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", c.Name())
	assert.Equal(t, DefaultKeyV1, c.Key())

	c, err = CipherByName("V2", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "v2", c.Name())
	assert.Equal(t, "0123456789abcdef", c.Key())

	_, err = CipherByName("v3", "")
	assert.ErrorIs(t, err, ErrConfiguration)
}
