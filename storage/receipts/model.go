package receipts

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// TableName is the relational table accepted receipts land in.
const TableName = "scalar_tap_receipts"

// Decimal stores an unsigned integer in an arbitrary precision NUMERIC column.
// SQLite has no lossless NUMERIC for values above int64, so it falls back to TEXT.
type Decimal struct {
	v uint256.Int
}

// DecimalFromUint64 wraps n.
func DecimalFromUint64(n uint64) Decimal {
	var d Decimal
	d.v.SetUint64(n)
	return d
}

// Uint64 returns the value and whether it fits in 64 bits.
func (d Decimal) Uint64() (uint64, bool) {
	return d.v.Uint64(), d.v.IsUint64()
}

func (d Decimal) String() string { return d.v.Dec() }

func (d Decimal) Value() (driver.Value, error) {
	return d.v.Dec(), nil
}

func (d *Decimal) Scan(src any) error {
	var raw string
	switch value := src.(type) {
	case nil:
		d.v.Clear()
		return nil
	case string:
		raw = value
	case []byte:
		raw = string(value)
	case int64:
		if value < 0 {
			return fmt.Errorf("receipts: negative decimal %d", value)
		}
		d.v.SetUint64(uint64(value))
		return nil
	case float64:
		if value < 0 || value > math.MaxUint64 || value != math.Trunc(value) {
			return fmt.Errorf("receipts: decimal %v is not an unsigned integer", value)
		}
		raw = strconv.FormatFloat(value, 'f', 0, 64)
	default:
		return fmt.Errorf("receipts: cannot scan %T into Decimal", src)
	}
	parsed, err := uint256.FromDecimal(raw)
	if err != nil {
		return fmt.Errorf("receipts: parse decimal %q: %w", raw, err)
	}
	d.v.Set(parsed)
	return nil
}

func (Decimal) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "NUMERIC(20,0)"
	}
	return "TEXT"
}

// Document is a JSON blob stored as JSONB on Postgres.
type Document json.RawMessage

func (d Document) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return string(d), nil
}

func (d *Document) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*d = nil
	case string:
		*d = Document(value)
	case []byte:
		*d = append(Document(nil), value...)
	default:
		return fmt.Errorf("receipts: cannot scan %T into Document", src)
	}
	return nil
}

func (Document) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "TEXT"
}

// Receipt is one accepted receipt row. Allocation and signer are lowercase hex
// without the 0x prefix. (allocation_id, signer_address, nonce) is unique.
type Receipt struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	AllocationID  string    `gorm:"size:40;not null;index;uniqueIndex:idx_scalar_tap_receipts_identity,priority:1"`
	SignerAddress string    `gorm:"size:40;not null;uniqueIndex:idx_scalar_tap_receipts_identity,priority:2"`
	Nonce         Decimal   `gorm:"not null;uniqueIndex:idx_scalar_tap_receipts_identity,priority:3"`
	TimestampNs   Decimal   `gorm:"not null"`
	Receipt       Document  `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Receipt) TableName() string { return TableName }

// AutoMigrate creates or updates the receipt table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Receipt{})
}
