package tap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies why a receipt was not admitted. Callers map kinds to client
// responses; the core never does.
type Kind string

const (
	KindAllocationIneligible Kind = "allocation_ineligible"
	KindSignatureRecovery    Kind = "signature_recovery"
	KindSenderIneligible     Kind = "sender_ineligible"
	KindDuplicateReceipt     Kind = "duplicate_receipt"
	KindPersistence          Kind = "persistence"
)

var (
	// ErrAllocationIneligible indicates the receipt's allocation is not open for this indexer.
	ErrAllocationIneligible = errors.New("tap: allocation not eligible")
	// ErrSignatureRecovery indicates the signer could not be recovered from the receipt.
	ErrSignatureRecovery = errors.New("tap: failed to recover receipt signer")
	// ErrSenderIneligible indicates the recovered sender has no usable escrow.
	ErrSenderIneligible = errors.New("tap: sender not eligible")
	// ErrDuplicateReceipt indicates a receipt with the same allocation, sender, and nonce is already stored.
	ErrDuplicateReceipt = errors.New("tap: duplicate receipt")
	// ErrPersistence indicates the receipt could not be stored.
	ErrPersistence = errors.New("tap: failed to store receipt")
)

var kindSentinels = map[Kind]error{
	KindAllocationIneligible: ErrAllocationIneligible,
	KindSignatureRecovery:    ErrSignatureRecovery,
	KindSenderIneligible:     ErrSenderIneligible,
	KindDuplicateReceipt:     ErrDuplicateReceipt,
	KindPersistence:          ErrPersistence,
}

// ReceiptError reports a rejected receipt with enough context to build a
// client-facing rejection. Cause holds internal diagnostics and is excluded
// from Error().
type ReceiptError struct {
	Kind         Kind
	AllocationID common.Address
	// Sender is the zero address when the signer was never recovered.
	Sender common.Address
	Cause  error
}

func (e *ReceiptError) Error() string {
	switch e.Kind {
	case KindAllocationIneligible:
		return fmt.Sprintf("receipt's allocation ID (%s) is not eligible for this indexer", e.AllocationID.Hex())
	case KindSignatureRecovery:
		return "failed to recover receipt signer"
	case KindSenderIneligible:
		return fmt.Sprintf("receipt's sender (%s) is not eligible for this indexer", e.Sender.Hex())
	case KindDuplicateReceipt:
		return fmt.Sprintf("receipt from %s for allocation %s was already accepted", e.Sender.Hex(), e.AllocationID.Hex())
	case KindPersistence:
		return "failed to store receipt"
	default:
		return "receipt rejected"
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ReceiptError) Unwrap() []error {
	out := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		out = append(out, sentinel)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// HasSender reports whether the sender field was populated.
func (e *ReceiptError) HasSender() bool {
	return e.Sender != (common.Address{})
}

// KindOf extracts the rejection kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var receiptErr *ReceiptError
	if errors.As(err, &receiptErr) {
		return receiptErr.Kind, true
	}
	return "", false
}
