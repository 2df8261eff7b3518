package tap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"indexerservice/crypto"
)

// ValueBits bounds receipt values to uint128.
const ValueBits = 128

// ErrMalformedReceipt is returned when a receipt cannot be decoded.
var ErrMalformedReceipt = errors.New("tap: malformed receipt")

var receiptTypes = []apitypes.Type{
	{Name: "allocation_id", Type: "address"},
	{Name: "timestamp_ns", Type: "uint64"},
	{Name: "nonce", Type: "uint64"},
	{Name: "value", Type: "uint128"},
}

// Receipt is the message a sender signs for every paid query.
type Receipt struct {
	AllocationID common.Address
	TimestampNs  uint64
	Nonce        uint64
	Value        *uint256.Int
}

// SignedReceipt pairs a receipt with the sender's recoverable signature.
type SignedReceipt struct {
	Message   Receipt
	Signature crypto.RecoverableSignature
}

func (r Receipt) value() *uint256.Int {
	if r.Value == nil {
		return new(uint256.Int)
	}
	return r.Value
}

// Validate checks bounds that the EIP-712 encoding relies on.
func (r Receipt) Validate() error {
	if r.value().BitLen() > ValueBits {
		return fmt.Errorf("%w: value exceeds %d bits", ErrMalformedReceipt, ValueBits)
	}
	return nil
}

func (r Receipt) typedData(domain Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"Receipt":      receiptTypes,
		},
		PrimaryType: "Receipt",
		Domain:      domain.typed(),
		Message: apitypes.TypedDataMessage{
			"allocation_id": r.AllocationID.Hex(),
			"timestamp_ns":  strconv.FormatUint(r.TimestampNs, 10),
			"nonce":         strconv.FormatUint(r.Nonce, 10),
			"value":         r.value().ToBig(),
		},
	}
}

// Digest returns keccak256("\x19\x01" || domainSeparator || hashStruct(receipt)).
func (r Receipt) Digest(domain Domain) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(r.typedData(domain))
	if err != nil {
		return nil, fmt.Errorf("tap: hash receipt: %w", err)
	}
	return digest, nil
}

// SignReceipt signs receipt under domain with key.
func SignReceipt(domain Domain, receipt Receipt, key *crypto.PrivateKey) (SignedReceipt, error) {
	if key == nil {
		return SignedReceipt{}, fmt.Errorf("tap: signing key required")
	}
	digest, err := receipt.Digest(domain)
	if err != nil {
		return SignedReceipt{}, err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return SignedReceipt{}, err
	}
	return SignedReceipt{Message: receipt, Signature: sig}, nil
}

// RecoverSigner returns the address whose key produced the receipt signature
// under domain.
func (s SignedReceipt) RecoverSigner(domain Domain) (common.Address, error) {
	digest, err := s.Message.Digest(domain)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, s.Signature.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", crypto.ErrRecoverSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

type receiptJSON struct {
	AllocationID common.Address  `json:"allocation_id"`
	TimestampNs  uint64          `json:"timestamp_ns"`
	Nonce        uint64          `json:"nonce"`
	Value        json.RawMessage `json:"value"`
}

// MarshalJSON writes every integer, including the uint128 value, as a JSON number.
func (r Receipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(receiptJSON{
		AllocationID: r.AllocationID,
		TimestampNs:  r.TimestampNs,
		Nonce:        r.Nonce,
		Value:        json.RawMessage(r.value().Dec()),
	})
}

// UnmarshalJSON accepts the value as a JSON number or a decimal string.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var wire receiptJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	raw := strings.TrimSpace(string(bytes.Trim(wire.Value, `"`)))
	if raw == "" || raw == "null" {
		return fmt.Errorf("%w: value required", ErrMalformedReceipt)
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return fmt.Errorf("%w: value %q: %v", ErrMalformedReceipt, raw, err)
	}
	decoded := Receipt{
		AllocationID: wire.AllocationID,
		TimestampNs:  wire.TimestampNs,
		Nonce:        wire.Nonce,
		Value:        value,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*r = decoded
	return nil
}

type signedReceiptJSON struct {
	Message   *Receipt                     `json:"message"`
	Signature *crypto.RecoverableSignature `json:"signature"`
}

func (s SignedReceipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(signedReceiptJSON{Message: &s.Message, Signature: &s.Signature})
}

func (s *SignedReceipt) UnmarshalJSON(data []byte) error {
	var wire signedReceiptJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		if errors.Is(err, ErrMalformedReceipt) || errors.Is(err, crypto.ErrInvalidSignature) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	if wire.Message == nil {
		return fmt.Errorf("%w: message required", ErrMalformedReceipt)
	}
	if wire.Signature == nil {
		return fmt.Errorf("%w: signature required", ErrMalformedReceipt)
	}
	s.Message = *wire.Message
	s.Signature = *wire.Signature
	return nil
}

// DecodeSignedReceipt parses the JSON wire form of a signed receipt.
func DecodeSignedReceipt(data []byte) (SignedReceipt, error) {
	var receipt SignedReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		if errors.Is(err, ErrMalformedReceipt) || errors.Is(err, crypto.ErrInvalidSignature) {
			return SignedReceipt{}, err
		}
		return SignedReceipt{}, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	return receipt, nil
}
