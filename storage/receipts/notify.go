package receipts

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
)

// DefaultChannel is the channel receipt inserts are announced on.
const DefaultChannel = "scalar_tap_receipt_notification"

// Notification announces one stored receipt to downstream aggregation.
type Notification struct {
	ID            uint64 `json:"id"`
	AllocationID  string `json:"allocation_id"`
	SignerAddress string `json:"signer_address"`
	TimestampNs   uint64 `json:"timestamp_ns"`
}

// ParseNotification decodes a notification payload.
func ParseNotification(payload string) (Notification, error) {
	var note Notification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		return Notification{}, fmt.Errorf("receipts: decode notification: %w", err)
	}
	if note.AllocationID == "" {
		return Notification{}, fmt.Errorf("receipts: notification missing allocation_id")
	}
	return note, nil
}

// Notifier publishes a notification from inside the insert transaction.
type Notifier interface {
	Notify(tx *gorm.DB, note Notification) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(*gorm.DB, Notification) error { return nil }

// PostgresNotifier issues pg_notify inside the transaction, so Postgres only
// delivers the payload if the insert commits.
type PostgresNotifier struct {
	Channel string
}

func (n PostgresNotifier) channel() string {
	if ch := strings.TrimSpace(n.Channel); ch != "" {
		return ch
	}
	return DefaultChannel
}

func (n PostgresNotifier) Notify(tx *gorm.DB, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("receipts: encode notification: %w", err)
	}
	if err := tx.Exec("SELECT pg_notify(?, ?)", n.channel(), string(payload)).Error; err != nil {
		return fmt.Errorf("receipts: notify %s: %w", n.channel(), err)
	}
	return nil
}

// Publisher is implemented by notifiers that deliver outside the database.
// The store calls Publish only after the insert transaction has committed.
type Publisher interface {
	Publish(note Notification)
}

// MemoryNotifier keeps notifications in process. It is used with SQLite, which
// has no notification mechanism, and by tests. Nothing is recorded from inside
// the transaction; notifications appear once the store publishes them after
// commit.
type MemoryNotifier struct {
	mu    sync.Mutex
	notes []Notification
	subs  []chan Notification
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) Notify(*gorm.DB, Notification) error { return nil }

func (m *MemoryNotifier) Publish(note Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, note)
	for _, sub := range m.subs {
		select {
		case sub <- note:
		default:
		}
	}
}

// Notifications returns a copy of everything published so far.
func (m *MemoryNotifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notes...)
}

// Subscribe returns a buffered channel receiving future notifications. Slow
// subscribers miss notifications once the buffer is full.
func (m *MemoryNotifier) Subscribe(buffer int) <-chan Notification {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
