package auction

import (
	"context"
	"time"
)

// Identity is an account address: the seller, a bidder, or the escrow itself.
type Identity string

// NoOne is the empty identity, e.g. the leader before any valid bid.
const NoOne Identity = ""

// Registry is the non-fungible asset contract holding the lot.
type Registry interface {
	// TransferCustody fails if from does not own assetID or the escrow is
	// not authorized to move it.
	TransferCustody(ctx context.Context, from, to Identity, assetID string) error
	OwnerOf(ctx context.Context, assetID string) (Identity, error)
}

// Registries resolves the asset contract reference given to Start.
type Registries interface {
	Lookup(ref string) (Registry, bool)
}

// Funds moves native currency in and out of the escrow account.
type Funds interface {
	// Collect takes the value attached to a bid from the bidder.
	Collect(ctx context.Context, from Identity, amount int64) error
	// Pay sends amount from the escrow account to the recipient, who may
	// refuse it.
	Pay(ctx context.Context, to Identity, amount int64) error
}

type Clock interface {
	Now() time.Time
}

// Journal receives every committed mutation in commit order, while the
// auction is still locked. It cannot veto the commit.
type Journal interface {
	Record(ctx context.Context, events []Event, snap Snapshot)
}
