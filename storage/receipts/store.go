package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"indexerservice/crypto"
	"indexerservice/observability"
)

// ErrDuplicate is returned when a receipt with the same allocation, signer, and
// nonce has already been stored.
var ErrDuplicate = errors.New("receipts: duplicate receipt")

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Record is an accepted receipt ready to be persisted.
type Record struct {
	AllocationID common.Address
	Signer       common.Address
	Nonce        uint64
	TimestampNs  uint64
	// Receipt is the full signed receipt as JSON.
	Receipt json.RawMessage
}

// Store writes accepted receipts and announces each insert on the notification
// channel within the same transaction.
type Store struct {
	db       *gorm.DB
	notifier Notifier
	metrics  *observability.ReceiptStoreMetrics
	now      func() time.Time
}

// StoreOption customises the store instance.
type StoreOption func(*Store)

// WithStoreMetrics overrides the default metrics registry.
func WithStoreMetrics(m *observability.ReceiptStoreMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStoreClock sets the function used to stamp created_at.
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.now = clock }
}

// NewStore constructs a store backed by db. A nil notifier disables notifications.
func NewStore(db *gorm.DB, notifier Notifier, opts ...StoreOption) *Store {
	if db == nil {
		panic("receipts: database required")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	store := &Store{
		db:       db,
		notifier: notifier,
		metrics:  observability.ReceiptStore(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Migrate creates the receipt table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := AutoMigrate(s.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("receipts: migrate: %w", err)
	}
	return nil
}

// Insert stores rec and emits exactly one notification for it. Either both the
// row and the notification commit or neither does.
func (s *Store) Insert(ctx context.Context, rec Record) (Notification, error) {
	if len(rec.Receipt) == 0 {
		return Notification{}, fmt.Errorf("receipts: receipt body required")
	}
	row := Receipt{
		AllocationID:  crypto.StorageHex(rec.AllocationID),
		SignerAddress: crypto.StorageHex(rec.Signer),
		Nonce:         DecimalFromUint64(rec.Nonce),
		TimestampNs:   DecimalFromUint64(rec.TimestampNs),
		Receipt:       Document(rec.Receipt),
		CreatedAt:     s.now().UTC(),
	}

	var note Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		note = Notification{
			ID:            row.ID,
			AllocationID:  row.AllocationID,
			SignerAddress: row.SignerAddress,
			TimestampNs:   rec.TimestampNs,
		}
		return s.notifier.Notify(tx, note)
	})
	if err != nil {
		if isUniqueViolation(err) {
			s.metrics.RecordInsert("duplicate")
			return Notification{}, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		s.metrics.RecordInsert("error")
		return Notification{}, fmt.Errorf("receipts: insert: %w", err)
	}
	s.metrics.RecordInsert("ok")
	if pub, ok := s.notifier.(Publisher); ok {
		pub.Publish(note)
	}
	return note, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Count returns the number of stored receipts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Receipt{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListByAllocation returns stored receipts for an allocation ordered by id.
func (s *Store) ListByAllocation(ctx context.Context, allocation common.Address) ([]Receipt, error) {
	var rows []Receipt
	err := s.db.WithContext(ctx).
		Where("allocation_id = ?", crypto.StorageHex(allocation)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
