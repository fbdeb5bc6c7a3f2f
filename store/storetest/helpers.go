package storetest

import (
	"context"
	"testing"
	"time"

	"escrow/address"
	"escrow/store"

	"github.com/gofrs/uuid"
	tm_crypto_secp256k1 "github.com/tendermint/tendermint/crypto/secp256k1"
)

const AddressPrefix = "escrow"

// NewAuction stores a started auction with a random seller and escrow.
func NewAuction(t *testing.T, s store.Store) *store.Auction {
	t.Helper()

	a := &store.Auction{
		ID:              "auction-" + uuid.Must(uuid.NewV4()).String(),
		Seller:          GenAddr(t),
		EscrowAddress:   GenAddr(t),
		StartPrice:      5,
		BuyNowPrice:     100,
		MinBidIncrement: 1,
		State:           "started",
		AssetRef:        "nft",
		AssetID:         "42",
		EndAt:           Now().Add(7 * 24 * time.Hour),
		HighestBid:      5,
	}

	if err := s.UpsertAuction(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	return a
}

func NewEvent(t *testing.T, s store.Store, a *store.Auction, kind string, amount int64) *store.Event {
	t.Helper()

	e := &store.Event{
		AuctionID: a.ID,
		Kind:      kind,
		Actor:     GenAddr(t),
		Amount:    amount,
		At:        Now(),
	}

	if err := s.InsertEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	return e
}

// GenAddr returns the bech32 address of a fresh secp256k1 key.
func GenAddr(t *testing.T) string {
	t.Helper()

	addr, err := address.FromBytes(AddressPrefix, tm_crypto_secp256k1.GenPrivKey().PubKey().Address())
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

// Now is the current time at the precision Postgres stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
