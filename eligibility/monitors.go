// Package eligibility holds the in-process snapshots receipt admission reads to
// decide whether an allocation or sender may transact. Snapshots are replaced
// wholesale by whatever refreshes them; reads never block and never do I/O.
package eligibility

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AllocationSet answers whether an allocation is currently open for this indexer.
type AllocationSet struct {
	snapshot atomic.Pointer[allocationSnapshot]
}

type allocationSnapshot struct {
	ids       map[common.Address]struct{}
	updatedAt time.Time
}

// NewAllocationSet starts from the given eligible allocations.
func NewAllocationSet(ids ...common.Address) *AllocationSet {
	set := &AllocationSet{}
	set.Replace(time.Time{}, ids...)
	return set
}

// Replace swaps in a new snapshot of eligible allocations.
func (s *AllocationSet) Replace(updatedAt time.Time, ids ...common.Address) {
	next := &allocationSnapshot{ids: make(map[common.Address]struct{}, len(ids)), updatedAt: updatedAt}
	for _, id := range ids {
		next.ids[id] = struct{}{}
	}
	s.snapshot.Store(next)
}

func (s *AllocationSet) IsAllocationEligible(id common.Address) bool {
	_, ok := s.snapshot.Load().ids[id]
	return ok
}

// Len returns the number of eligible allocations in the current snapshot.
func (s *AllocationSet) Len() int {
	return len(s.snapshot.Load().ids)
}

// UpdatedAt reports when the current snapshot was taken.
func (s *AllocationSet) UpdatedAt() time.Time {
	return s.snapshot.Load().updatedAt
}

// EscrowAccounts answers whether a sender has escrow backing its receipts.
// A sender is eligible while its balance is non-zero.
type EscrowAccounts struct {
	snapshot atomic.Pointer[escrowSnapshot]
}

type escrowSnapshot struct {
	balances  map[common.Address]*uint256.Int
	updatedAt time.Time
}

// NewEscrowAccounts starts from the given balances.
func NewEscrowAccounts(balances map[common.Address]*uint256.Int) *EscrowAccounts {
	accounts := &EscrowAccounts{}
	accounts.Replace(time.Time{}, balances)
	return accounts
}

// Replace swaps in a new balance snapshot. The map is copied.
func (a *EscrowAccounts) Replace(updatedAt time.Time, balances map[common.Address]*uint256.Int) {
	next := &escrowSnapshot{balances: make(map[common.Address]*uint256.Int, len(balances)), updatedAt: updatedAt}
	for sender, balance := range balances {
		if balance == nil {
			continue
		}
		next.balances[sender] = new(uint256.Int).Set(balance)
	}
	a.snapshot.Store(next)
}

func (a *EscrowAccounts) IsSenderEligible(sender common.Address) bool {
	balance, ok := a.snapshot.Load().balances[sender]
	return ok && !balance.IsZero()
}

// Balance returns a copy of the sender's balance, or zero when unknown.
func (a *EscrowAccounts) Balance(sender common.Address) *uint256.Int {
	balance, ok := a.snapshot.Load().balances[sender]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(balance)
}

// UpdatedAt reports when the current snapshot was taken.
func (a *EscrowAccounts) UpdatedAt() time.Time {
	return a.snapshot.Load().updatedAt
}

// ParseBalances converts address -> decimal balance strings into a snapshot map.
func ParseBalances(raw map[string]string, parseAddress func(string) (common.Address, error)) (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int, len(raw))
	for addr, value := range raw {
		sender, err := parseAddress(addr)
		if err != nil {
			return nil, err
		}
		balance, err := uint256.FromDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("eligibility: balance for %s: %w", addr, err)
		}
		out[sender] = balance
	}
	return out, nil
}
