package ledger

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// KeyBits is the RSA modulus size the ledger expects for signature type 1.
const KeyBits = 4096

// ErrInvalidJWK is returned when a credential file is not a usable RSA JWK.
var ErrInvalidJWK = errors.New("invalid JWK")

var b64 = base64.RawURLEncoding

// Wallet is an RSA signing key held in memory. The JWK form is what users
// store on disk and pass around as a credential path.
type Wallet struct {
	key *rsa.PrivateKey
}

type jwkKey struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	D   string `json:"d,omitempty"`
	P   string `json:"p,omitempty"`
	Q   string `json:"q,omitempty"`
	DP  string `json:"dp,omitempty"`
	DQ  string `json:"dq,omitempty"`
	QI  string `json:"qi,omitempty"`
}

// GenerateWallet creates a fresh KeyBits RSA wallet.
func GenerateWallet() (*Wallet, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	key.Precompute()
	return &Wallet{key: key}, nil
}

// LoadWallet reads a JWK credential file. The file is only read, never written.
func LoadWallet(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	return ParseJWK(data)
}

// ParseJWK decodes an RSA private key in JWK form.
func ParseJWK(data []byte) (*Wallet, error) {
	var k jwkKey
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("%w: kty %q, want RSA", ErrInvalidJWK, k.Kty)
	}

	fields := map[string]string{"n": k.N, "e": k.E, "d": k.D, "p": k.P, "q": k.Q}
	ints := make(map[string]*big.Int, len(fields))
	for name, v := range fields {
		if v == "" {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidJWK, name)
		}
		raw, err := b64.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidJWK, name, err)
		}
		ints[name] = new(big.Int).SetBytes(raw)
	}
	if !ints["e"].IsInt64() {
		return nil, fmt.Errorf("%w: exponent too large", ErrInvalidJWK)
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: ints["n"], E: int(ints["e"].Int64())},
		D:         ints["d"],
		Primes:    []*big.Int{ints["p"], ints["q"]},
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	key.Precompute()
	return &Wallet{key: key}, nil
}

// JWK returns the private key in JWK form.
func (w *Wallet) JWK() (json.RawMessage, error) {
	k := w.key
	enc := func(i *big.Int) string { return b64.EncodeToString(i.Bytes()) }
	out := jwkKey{
		Kty: "RSA",
		N:   enc(k.N),
		E:   enc(big.NewInt(int64(k.E))),
		D:   enc(k.D),
		P:   enc(k.Primes[0]),
		Q:   enc(k.Primes[1]),
		DP:  enc(k.Precomputed.Dp),
		DQ:  enc(k.Precomputed.Dq),
		QI:  enc(k.Precomputed.Qinv),
	}
	return json.Marshal(out)
}

// Owner returns the public modulus bytes, the data item owner field.
func (w *Wallet) Owner() []byte {
	return w.key.N.Bytes()
}

// Address is base64url(sha256(owner)).
func (w *Wallet) Address() string {
	return AddressOf(w.Owner())
}

// AddressOf derives a ledger address from a public modulus.
func AddressOf(owner []byte) string {
	sum := sha256.Sum256(owner)
	return b64.EncodeToString(sum[:])
}

// AddressFromJWK derives the address of a JWK document without loading the private parts.
func AddressFromJWK(data []byte) (string, error) {
	var k jwkKey
	if err := json.Unmarshal(data, &k); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	n, err := b64.DecodeString(k.N)
	if err != nil || len(n) == 0 {
		return "", fmt.Errorf("%w: bad modulus", ErrInvalidJWK)
	}
	return AddressOf(n), nil
}
