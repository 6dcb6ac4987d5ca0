package ledger

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWallet_JWKRoundTrip(t *testing.T) {
	w := testWallet(t)

	raw, err := w.JWK()
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "RSA", doc["kty"])
	assert.Equal(t, "AQAB", doc["e"])
	for _, k := range []string{"n", "d", "p", "q", "dp", "dq", "qi"} {
		assert.NotEmpty(t, doc[k], "field %s", k)
	}

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	loaded, err := LoadWallet(path)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), loaded.Address())
}

func TestWallet_AddressIsHashOfModulus(t *testing.T) {
	w := testWallet(t)
	raw, err := w.JWK()
	require.NoError(t, err)

	var doc struct {
		N string `json:"n"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	n, err := base64.RawURLEncoding.DecodeString(doc.N)
	require.NoError(t, err)
	assert.Len(t, n, ownerLength)

	sum := sha256.Sum256(n)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, want, w.Address())
	assert.Len(t, w.Address(), 43)

	fromDoc, err := AddressFromJWK(raw)
	require.NoError(t, err)
	assert.Equal(t, want, fromDoc)
}

func TestParseJWK_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "{"},
		{"wrong kty", `{"kty":"EC","n":"AQAB","e":"AQAB"}`},
		{"missing d", `{"kty":"RSA","n":"AQAB","e":"AQAB"}`},
		{"bad base64", `{"kty":"RSA","n":"!!","e":"AQAB","d":"AQAB","p":"AQAB","q":"AQAB"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJWK([]byte(tt.doc))
			assert.True(t, errors.Is(err, ErrInvalidJWK), "got %v", err)
		})
	}
}

func TestLoadWallet_MissingFile(t *testing.T) {
	_, err := LoadWallet(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read wallet")
}
