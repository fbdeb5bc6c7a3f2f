package store

import (
	"context"
)

type Store interface {
	Transact(context.Context, func(Store) error) error

	Ping(ctx context.Context) error

	UpsertAuction(ctx context.Context, a *Auction) error
	SelectAuction(ctx context.Context, id string) (*Auction, error)
	ListAuctions(ctx context.Context) ([]*Auction, error)

	// ReplaceBalances makes balances the complete ledger of the auction.
	ReplaceBalances(ctx context.Context, auctionID string, balances []*Balance) error
	ListBalances(ctx context.Context, auctionID string) ([]*Balance, error)

	InsertEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, auctionID string) ([]*Event, error)
}
