package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an R||S||V recoverable signature.
const SignatureLength = crypto.SignatureLength

// ErrInvalidSignature is returned when signature bytes cannot be decoded.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// RecoverableSignature is an ECDSA signature over secp256k1 carrying the
// recovery id needed to derive the signing key from the digest.
type RecoverableSignature struct {
	R [32]byte
	S [32]byte
	// V is the recovery id, always 0 or 1.
	V byte
}

// SignatureFromBytes decodes a 65-byte R||S||V signature. V may be given as 0/1
// or in the legacy 27/28 form.
func SignatureFromBytes(raw []byte) (RecoverableSignature, error) {
	if len(raw) != SignatureLength {
		return RecoverableSignature{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(raw))
	}
	v, err := normaliseRecoveryID(raw[64])
	if err != nil {
		return RecoverableSignature{}, err
	}
	var sig RecoverableSignature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = v
	return sig, nil
}

// SignatureFromHex decodes a 0x-prefixed 65-byte signature.
func SignatureFromHex(raw string) (RecoverableSignature, error) {
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return RecoverableSignature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return SignatureFromBytes(decoded)
}

func normaliseRecoveryID(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v, nil
	case 27, 28:
		return v - 27, nil
	default:
		return 0, fmt.Errorf("%w: recovery id %d out of range", ErrInvalidSignature, v)
	}
}

// Bytes returns the R||S||V encoding accepted by go-ethereum recovery.
func (s RecoverableSignature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// Standard drops the recovery id, yielding the 64-byte R||S form used for
// direct verification against a known key.
func (s RecoverableSignature) Standard() []byte {
	out := make([]byte, 64)
	copy(out[:32], s.R[:])
	copy(out[32:], s.S[:])
	return out
}

// Hex renders the signature as a 0x-prefixed hex string.
func (s RecoverableSignature) Hex() string {
	return hexutil.Encode(s.Bytes())
}

// LowS reports whether the signature is in canonical low-S form with valid
// scalar ranges.
func (s RecoverableSignature) LowS() bool {
	r := new(big.Int).SetBytes(s.R[:])
	sv := new(big.Int).SetBytes(s.S[:])
	return crypto.ValidateSignatureValues(s.V, r, sv, true)
}

type signatureJSON struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint64 `json:"v"`
}

// MarshalJSON emits {"r":"0x..","s":"0x..","v":27|28}.
func (s RecoverableSignature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{
		R: hexutil.Encode(s.R[:]),
		S: hexutil.Encode(s.S[:]),
		V: uint64(s.V) + 27,
	})
}

// UnmarshalJSON accepts the object form or a single 65-byte hex string.
func (s *RecoverableSignature) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := SignatureFromHex(asString)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var wire signatureJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	r, err := decodeScalar(wire.R)
	if err != nil {
		return fmt.Errorf("%w: r: %v", ErrInvalidSignature, err)
	}
	sv, err := decodeScalar(wire.S)
	if err != nil {
		return fmt.Errorf("%w: s: %v", ErrInvalidSignature, err)
	}
	if wire.V > 255 {
		return fmt.Errorf("%w: recovery id %d out of range", ErrInvalidSignature, wire.V)
	}
	v, err := normaliseRecoveryID(byte(wire.V))
	if err != nil {
		return err
	}
	*s = RecoverableSignature{R: r, S: sv, V: v}
	return nil
}

// decodeScalar left-pads a hex scalar into 32 bytes.
func decodeScalar(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return out, err
	}
	if len(decoded) > 32 {
		return out, fmt.Errorf("scalar longer than 32 bytes")
	}
	copy(out[32-len(decoded):], decoded)
	return out, nil
}
