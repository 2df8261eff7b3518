package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseAddress decodes a 20-byte hex address. The 0x prefix is optional and the
// checksum casing is not enforced.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("crypto: empty address")
	}
	body := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(body) != 2*common.AddressLength {
		return common.Address{}, fmt.Errorf("crypto: address %q must be %d bytes", raw, common.AddressLength)
	}
	decoded, err := hex.DecodeString(body)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: invalid address %q: %w", raw, err)
	}
	return common.BytesToAddress(decoded), nil
}

// StorageHex renders an address as lowercase hex without the 0x prefix, the
// form used for persisted rows and notification payloads.
func StorageHex(addr common.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the Ethereum address controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return k.PubKey().Address()
}

// Sign produces a recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) (RecoverableSignature, error) {
	raw, err := crypto.Sign(digest, k.PrivateKey)
	if err != nil {
		return RecoverableSignature{}, fmt.Errorf("crypto: sign digest: %w", err)
	}
	return SignatureFromBytes(raw)
}

func (k *PublicKey) Address() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

// Bytes returns the 65-byte uncompressed encoding of the key.
func (k *PublicKey) Bytes() []byte {
	return crypto.FromECDSAPub(k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex encoded secp256k1 private key with an optional 0x prefix.
func PrivateKeyFromHex(raw string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("crypto: empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: load private key: %w", err)
	}
	return &PrivateKey{key}, nil
}
