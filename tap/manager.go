package tap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"indexerservice/observability"
	"indexerservice/storage/receipts"
)

// AllocationMonitor reports whether an allocation is open for this indexer.
// Implementations must answer from cached state without blocking.
type AllocationMonitor interface {
	IsAllocationEligible(allocationID common.Address) bool
}

// EscrowMonitor reports whether a sender has escrow backing its receipts.
// Implementations must answer from cached state without blocking.
type EscrowMonitor interface {
	IsSenderEligible(sender common.Address) bool
}

// ReceiptStore persists one accepted receipt and announces it.
type ReceiptStore interface {
	Insert(ctx context.Context, rec receipts.Record) (receipts.Notification, error)
}

// Manager admits receipts attached to paid queries. It is a fast filter:
// eligibility is read from cached snapshots and is not transactional with the
// insert, and aggregation re-validates receipts before funds move.
//
// VerifyAndStoreReceipt is safe for concurrent use.
type Manager struct {
	store       ReceiptStore
	allocations AllocationMonitor
	escrow      EscrowMonitor
	domain      Domain

	logger  *slog.Logger
	metrics *observability.TapMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// ManagerOption customises the manager instance.
type ManagerOption func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(metrics *observability.TapMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer overrides the tracer used for admission spans.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager wires the admission pipeline.
func NewManager(store ReceiptStore, allocations AllocationMonitor, escrow EscrowMonitor, domain Domain, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("tap: receipt store required")
	}
	if allocations == nil {
		panic("tap: allocation monitor required")
	}
	if escrow == nil {
		panic("tap: escrow monitor required")
	}
	m := &Manager{
		store:       store,
		allocations: allocations,
		escrow:      escrow,
		domain:      domain,
		logger:      slog.Default(),
		metrics:     observability.Tap(),
		tracer:      otel.Tracer("indexerservice/tap"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("component", "tap-manager"))
	return m
}

// Domain returns the signing domain receipts are recovered against.
func (m *Manager) Domain() Domain {
	return m.domain
}

// VerifyAndStoreReceipt checks that the receipt refers to an eligible
// allocation and was signed by an eligible sender, then stores it. Nothing is
// written unless every check passes. Failures are returned as *ReceiptError.
func (m *Manager) VerifyAndStoreReceipt(ctx context.Context, receipt SignedReceipt) (err error) {
	start := m.now()
	allocationID := receipt.Message.AllocationID
	ctx, span := m.tracer.Start(ctx, "tap.VerifyAndStoreReceipt", trace.WithAttributes(
		attribute.String("tap.allocation_id", allocationID.Hex()),
	))
	defer func() {
		outcome := "accepted"
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		m.metrics.RecordOutcome(outcome, m.now().Sub(start))
	}()

	if !m.allocations.IsAllocationEligible(allocationID) {
		m.logger.Warn("receipt allocation not eligible", slog.String("allocation_id", allocationID.Hex()))
		return &ReceiptError{Kind: KindAllocationIneligible, AllocationID: allocationID}
	}

	sender, err := receipt.RecoverSigner(m.domain)
	if err != nil {
		m.logger.Error("failed to recover receipt signer",
			slog.String("allocation_id", allocationID.Hex()),
			slog.String("error", err.Error()))
		return &ReceiptError{Kind: KindSignatureRecovery, AllocationID: allocationID, Cause: err}
	}
	span.SetAttributes(attribute.String("tap.sender", sender.Hex()))

	if !m.escrow.IsSenderEligible(sender) {
		m.logger.Warn("receipt sender not eligible",
			slog.String("allocation_id", allocationID.Hex()),
			slog.String("sender", sender.Hex()))
		return &ReceiptError{Kind: KindSenderIneligible, AllocationID: allocationID, Sender: sender}
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return &ReceiptError{Kind: KindPersistence, AllocationID: allocationID, Sender: sender, Cause: fmt.Errorf("encode receipt: %w", err)}
	}
	note, err := m.store.Insert(ctx, receipts.Record{
		AllocationID: allocationID,
		Signer:       sender,
		Nonce:        receipt.Message.Nonce,
		TimestampNs:  receipt.Message.TimestampNs,
		Receipt:      body,
	})
	if err != nil {
		if errors.Is(err, receipts.ErrDuplicate) {
			m.logger.Warn("duplicate receipt rejected",
				slog.String("allocation_id", allocationID.Hex()),
				slog.String("sender", sender.Hex()),
				slog.Uint64("nonce", receipt.Message.Nonce))
			return &ReceiptError{Kind: KindDuplicateReceipt, AllocationID: allocationID, Sender: sender, Cause: err}
		}
		m.logger.Error("failed to store receipt",
			slog.String("allocation_id", allocationID.Hex()),
			slog.String("error", err.Error()))
		return &ReceiptError{Kind: KindPersistence, AllocationID: allocationID, Sender: sender, Cause: err}
	}
	m.logger.Debug("receipt stored",
		slog.Uint64("id", note.ID),
		slog.String("allocation_id", allocationID.Hex()),
		slog.String("sender", sender.Hex()))
	return nil
}
