package ledger

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Ledger maps an identity to the amount it may withdraw. It is not safe for
// concurrent use; the owning auction serializes access.
type Ledger struct {
	balances map[string]int64
}

// Entry is one identity's withdrawable balance.
type Entry struct {
	Identity string
	Amount   int64
}

func New() *Ledger {
	return &Ledger{balances: map[string]int64{}}
}

// FromEntries rebuilds a ledger, e.g. from a persisted snapshot. Zero entries
// are dropped, negative ones rejected.
func FromEntries(entries []Entry) (*Ledger, error) {
	l := New()
	for _, e := range entries {
		switch {
		case e.Amount < 0:
			return nil, fmt.Errorf("%s: %d: %w", e.Identity, e.Amount, ErrInvalidAmount)
		case e.Amount == 0:
			continue
		}
		l.balances[e.Identity] += e.Amount
	}
	return l, nil
}

func (l *Ledger) Credit(id string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit %s with %d: %w", id, amount, ErrInvalidAmount)
	}
	l.balances[id] += amount
	return nil
}

func (l *Ledger) Balance(id string) int64 {
	return l.balances[id]
}

// Take zeroes the identity's balance and returns what it was.
func (l *Ledger) Take(id string) int64 {
	amount := l.balances[id]
	delete(l.balances, id)
	return amount
}

func (l *Ledger) Total() int64 {
	var total int64
	for _, v := range l.balances {
		total += v
	}
	return total
}

func (l *Ledger) Len() int {
	return len(l.balances)
}

func (l *Ledger) Clone() *Ledger {
	return &Ledger{balances: maps.Clone(l.balances)}
}

// Entries returns all non-zero balances ordered by identity.
func (l *Ledger) Entries() []Entry {
	ids := maps.Keys(l.balances)
	slices.Sort(ids)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{Identity: id, Amount: l.balances[id]})
	}
	return entries
}
