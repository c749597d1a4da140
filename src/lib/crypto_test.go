package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipherFromHex(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte(`{"id":"evt_123"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "evt_123")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"evt_123"}`, string(plain))
}

func TestCipherRejectsTamperedPayload(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipherFromHex(key)
	other, _ := GenerateKey()
	o, _ := NewCipherFromHex(other)

	sealed, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = o.Decrypt(sealed)
	assert.Error(t, err)

	_, err = c.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewCipherBadKey(t *testing.T) {
	_, err := NewCipherFromHex("zz")
	assert.Error(t, err)
	_, err = NewCipher([]byte("short"))
	assert.Error(t, err)
}
