package wallet

import (
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Well-formed base58 addresses for tests.
const (
	addrParent = "So11111111111111111111111111111111111111112"
	addrA      = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	addrB      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	addrC      = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func testSecret() []byte {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(64 - i)
	}
	return key
}

func TestSetValidate(t *testing.T) {
	valid := Set{
		Parent: Wallet{Address: addrParent, Name: "parent"},
		Children: []Wallet{
			{Address: addrA, Name: "w0", Index: 0},
			{Address: addrB, Name: "w1", Index: 1},
		},
	}
	require.NoError(t, valid.Validate())

	t.Run("duplicate child", func(t *testing.T) {
		s := valid
		s.Children = []Wallet{{Address: addrA}, {Address: addrA}}
		assert.Error(t, s.Validate())
	})

	t.Run("parent as child", func(t *testing.T) {
		s := valid
		s.Children = []Wallet{{Address: addrParent}}
		assert.Error(t, s.Validate())
	})

	t.Run("bad address", func(t *testing.T) {
		s := valid
		s.Children = []Wallet{{Address: "not-an-address"}}
		assert.Error(t, s.Validate())
	})

	t.Run("bad secret key", func(t *testing.T) {
		s := valid
		s.Children = []Wallet{{Address: addrA, SecretKey: "zzzz"}}
		assert.Error(t, s.Validate())
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	secret := base58.Encode(testSecret())
	parent := &Wallet{Address: addrParent, SecretKey: secret, Name: "airdrop"}
	require.NoError(t, store.SaveParent(parent, "user1"))

	children := []Wallet{
		{Address: addrA, SecretKey: secret, Name: "child-0", Index: 0},
		{Address: addrB, Name: "child-1", Index: 1},
	}
	require.NoError(t, store.SaveChildren(addrParent, children, "user1"))

	loaded, err := store.LoadParent("user1", addrParent)
	require.NoError(t, err)
	assert.Equal(t, addrParent, loaded.Address)
	assert.Equal(t, secret, loaded.SecretKey)

	kids, err := store.LoadChildren(addrParent, "user1")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "child-0", kids[0].Name)
	assert.False(t, kids[1].HasSecret())
}

func TestFileStoreNormalisesBase64Keys(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	raw := testSecret()
	legacyKey := base64.StdEncoding.EncodeToString(raw)
	canonical := base58.Encode(raw)

	require.NoError(t, store.SaveParent(&Wallet{Address: addrParent, Name: "p"}, "u"))
	// Write a child with a base64 key the way older tooling did.
	require.NoError(t, store.SaveChildren(addrParent, []Wallet{
		{Address: addrC, SecretKey: legacyKey, Index: 0},
	}, "u"))

	kids, err := store.LoadChildren(addrParent, "u")
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, canonical, kids[0].SecretKey)
}

func TestFileStoreNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	_, err = store.LoadParent("nobody", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.LoadChildren(addrParent, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
