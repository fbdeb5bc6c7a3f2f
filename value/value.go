// Package value is an in-memory native currency: a set of account balances
// and transfers between them.
package value

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"escrow/auction"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("recipient rejected payment")
	ErrInvalidAmount     = errors.New("invalid amount")
)

type Bank struct {
	mu       sync.Mutex
	accounts map[auction.Identity]int64
	rejects  map[auction.Identity]bool
}

func NewBank() *Bank {
	return &Bank{
		accounts: map[auction.Identity]int64{},
		rejects:  map[auction.Identity]bool{},
	}
}

func (b *Bank) Deposit(to auction.Identity, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrInvalidAmount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[to] += amount
	return nil
}

func (b *Bank) BalanceOf(id auction.Identity) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[id]
}

// Reject makes every later payment to id fail, like a recipient that refuses
// incoming value. Passing false accepts payments again.
func (b *Bank) Reject(id auction.Identity, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejects[id] = true
	} else {
		delete(b.rejects, id)
	}
}

func (b *Bank) Transfer(ctx context.Context, from, to auction.Identity, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("transfer %d: %w", amount, ErrInvalidAmount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.rejects[to]:
		return fmt.Errorf("%s: %w", to, ErrRejected)
	case b.accounts[from] < amount:
		return fmt.Errorf("%s has %d, need %d: %w", from, b.accounts[from], amount, ErrInsufficientFunds)
	}

	b.accounts[from] -= amount
	b.accounts[to] += amount
	return nil
}

// Escrow returns the funds view of the account held by address.
func (b *Bank) Escrow(address auction.Identity) *Account {
	return &Account{bank: b, address: address}
}

// Account moves value into and out of one escrow account.
type Account struct {
	bank    *Bank
	address auction.Identity
}

func (a *Account) Collect(ctx context.Context, from auction.Identity, amount int64) error {
	return a.bank.Transfer(ctx, from, a.address, amount)
}

func (a *Account) Pay(ctx context.Context, to auction.Identity, amount int64) error {
	return a.bank.Transfer(ctx, a.address, to, amount)
}
