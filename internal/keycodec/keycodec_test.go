package keycodec

import (
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyBytes() []byte {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestIsCanonical(t *testing.T) {
	key := testKeyBytes()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"base58 64 bytes", base58.Encode(key), true},
		{"base64 64 bytes", base64.StdEncoding.EncodeToString(key), false},
		{"base58 32 bytes", base58.Encode(key[:32]), false},
		{"empty", "", false},
		{"garbage", "not-a-key-0OIl", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCanonical(tt.input))
		})
	}
}

func TestToCanonical(t *testing.T) {
	key := testKeyBytes()
	canonical := base58.Encode(key)

	t.Run("canonical unchanged", func(t *testing.T) {
		got, err := ToCanonical(canonical)
		require.NoError(t, err)
		assert.Equal(t, canonical, got)
	})

	t.Run("base64 converted", func(t *testing.T) {
		got, err := ToCanonical(base64.StdEncoding.EncodeToString(key))
		require.NoError(t, err)
		assert.Equal(t, canonical, got)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		_, err := ToCanonical(base64.StdEncoding.EncodeToString(key[:32]))
		assert.ErrorIs(t, err, ErrKeyFormat)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := ToCanonical("!!!definitely not a key!!!")
		assert.ErrorIs(t, err, ErrKeyFormat)
	})
}

// ToCanonical must be idempotent: applying it twice yields the same key,
// and the result always decodes to 64 bytes.
func TestToCanonicalIdempotent(t *testing.T) {
	key := testKeyBytes()
	inputs := []string{
		base58.Encode(key),
		base64.StdEncoding.EncodeToString(key),
	}

	for _, in := range inputs {
		once, err := ToCanonical(in)
		require.NoError(t, err)
		twice, err := ToCanonical(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)

		decoded, err := base58.Decode(once)
		require.NoError(t, err)
		assert.Len(t, decoded, 64)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "So11...1112", Mask("So11111111111111111111111111111111111111112"))
	assert.Equal(t, "short", Mask("short"))
}
