package crypto

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrRecoverSignature is returned when no public key can be recovered from a
// digest and signature pair.
var ErrRecoverSignature = errors.New("crypto: failed to recover signature")

// ErrInvalidPublicKey is returned for keys that are not 65-byte uncompressed
// secp256k1 points.
var ErrInvalidPublicKey = errors.New("crypto: invalid public key")

// SignerKind discriminates the two forms a verifier's signer can take.
type SignerKind uint8

const (
	// SignerAddressOnly means only the signer's address is known; verification
	// has to recover the key from each signature.
	SignerAddressOnly SignerKind = iota
	// SignerPublicKeyKnown means the key has been recovered once and verified
	// against the address, so signatures are checked against it directly.
	SignerPublicKeyKnown
)

func (k SignerKind) String() string {
	switch k {
	case SignerAddressOnly:
		return "address"
	case SignerPublicKeyKnown:
		return "public_key"
	default:
		return "unknown"
	}
}

// Signer is the identity a SignatureVerifier checks signatures against. Values
// are immutable once constructed.
type Signer struct {
	kind      SignerKind
	address   common.Address
	publicKey []byte
}

// AddressOnly builds a signer known only by its address.
func AddressOnly(addr common.Address) *Signer {
	return &Signer{kind: SignerAddressOnly, address: addr}
}

// PublicKeyKnown builds a signer from a 65-byte uncompressed public key.
func PublicKeyKnown(pub []byte) (*Signer, error) {
	if len(pub) != 65 || pub[0] != 0x04 {
		return nil, ErrInvalidPublicKey
	}
	if _, err := crypto.UnmarshalPubkey(pub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key := append([]byte(nil), pub...)
	return &Signer{kind: SignerPublicKeyKnown, address: addressFromUncompressed(key), publicKey: key}, nil
}

func (s *Signer) Kind() SignerKind { return s.kind }

func (s *Signer) Address() common.Address { return s.address }

// PublicKey returns a copy of the uncompressed key, or nil for address-only signers.
func (s *Signer) PublicKey() []byte {
	if s.kind != SignerPublicKeyKnown {
		return nil
	}
	return append([]byte(nil), s.publicKey...)
}

// SignatureVerifier checks signatures produced by a single signer. It starts
// from the signer's address and, after the first signature whose recovered key
// hashes to that address, caches the key so later calls use plain ECDSA
// verification instead of key recovery.
//
// Verify is safe for concurrent use and never blocks: the signer is read and
// replaced through one atomic pointer. Racing upgrades store equal values.
type SignatureVerifier struct {
	signer atomic.Pointer[Signer]
}

func NewSignatureVerifier(addr common.Address) *SignatureVerifier {
	v := &SignatureVerifier{}
	v.signer.Store(AddressOnly(addr))
	return v
}

// Signer returns the current signer snapshot.
func (v *SignatureVerifier) Signer() *Signer {
	return v.signer.Load()
}

// Address returns the address the verifier was created for.
func (v *SignatureVerifier) Address() common.Address {
	return v.signer.Load().address
}

// Verify reports whether signature was produced over keccak256(message) by the
// verifier's signer. An error is returned only when key recovery fails.
func (v *SignatureVerifier) Verify(message []byte, signature RecoverableSignature) (bool, error) {
	digest := crypto.Keccak256(message)

	current := v.signer.Load()
	switch current.kind {
	case SignerPublicKeyKnown:
		return crypto.VerifySignature(current.publicKey, digest, signature.Standard()), nil
	case SignerAddressOnly:
		recovered, err := crypto.Ecrecover(digest, signature.Bytes())
		if err != nil {
			return false, ErrRecoverSignature
		}
		upgraded, err := PublicKeyKnown(recovered)
		if err != nil {
			panic("crypto: recovered public key is not in uncompressed form")
		}
		if upgraded.address != current.address {
			return false, nil
		}
		// Recovery accepts high-S signatures that VerifySignature rejects.
		// Refuse them here so the answer does not change once the key is cached.
		if !signature.LowS() {
			return false, nil
		}
		v.signer.Store(upgraded)
		return true, nil
	default:
		panic("crypto: unknown signer kind")
	}
}

// addressFromUncompressed hashes the 64 coordinate bytes of a 0x04-prefixed key
// and keeps the trailing 20 bytes.
func addressFromUncompressed(pub []byte) common.Address {
	hash := crypto.Keccak256(pub[1:])
	return common.BytesToAddress(hash[12:])
}
