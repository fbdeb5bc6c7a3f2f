// Package registry is an in-memory non-fungible asset contract. Each asset
// has one owner, and an owner may approve one operator to move it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"escrow/auction"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNotOwner     = errors.New("not the asset owner")
	ErrNotApproved  = errors.New("transfer not approved")
	ErrAssetExists  = errors.New("asset already exists")
)

// Memory is one asset contract. Its operator is the party calling
// TransferCustody; it must be the owner or the approved account.
type Memory struct {
	operator auction.Identity

	mu       sync.Mutex
	owners   map[string]auction.Identity
	approved map[string]auction.Identity
}

// NewMemory returns a registry whose transfers are performed by operator,
// typically the escrow address.
func NewMemory(operator auction.Identity) *Memory {
	return &Memory{
		operator: operator,
		owners:   map[string]auction.Identity{},
		approved: map[string]auction.Identity{},
	}
}

func (m *Memory) Mint(to auction.Identity, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[assetID]; ok {
		return fmt.Errorf("%s: %w", assetID, ErrAssetExists)
	}
	m.owners[assetID] = to
	return nil
}

// Approve lets spender move assetID on behalf of its owner. Approval is
// cleared by every transfer.
func (m *Memory) Approve(owner, spender auction.Identity, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	have, ok := m.owners[assetID]
	switch {
	case !ok:
		return fmt.Errorf("%s: %w", assetID, ErrUnknownAsset)
	case have != owner:
		return fmt.Errorf("%s owned by %s, not %s: %w", assetID, have, owner, ErrNotOwner)
	}
	m.approved[assetID] = spender
	return nil
}

func (m *Memory) TransferCustody(ctx context.Context, from, to auction.Identity, assetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	have, ok := m.owners[assetID]
	switch {
	case !ok:
		return fmt.Errorf("%s: %w", assetID, ErrUnknownAsset)
	case have != from:
		return fmt.Errorf("%s owned by %s, not %s: %w", assetID, have, from, ErrNotOwner)
	case m.operator != from && m.approved[assetID] != m.operator:
		return fmt.Errorf("%s by %s: %w", assetID, m.operator, ErrNotApproved)
	}

	m.owners[assetID] = to
	delete(m.approved, assetID)
	return nil
}

func (m *Memory) OwnerOf(ctx context.Context, assetID string) (auction.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	have, ok := m.owners[assetID]
	if !ok {
		return auction.NoOne, fmt.Errorf("%s: %w", assetID, ErrUnknownAsset)
	}
	return have, nil
}

// Directory maps asset contract references to registries.
type Directory map[string]auction.Registry

func (d Directory) Lookup(ref string) (auction.Registry, bool) {
	r, ok := d[ref]
	return r, ok
}
