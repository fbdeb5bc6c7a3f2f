package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

// Auction is the persisted state of one auction, keyed by ID.
type Auction struct {
	ID              string
	Seller          string
	EscrowAddress   string
	StartPrice      int64
	BuyNowPrice     int64
	MinBidIncrement int64
	State           string
	AssetRef        string
	AssetID         string
	EndAt           time.Time // zero until started
	HighestBid      int64
	HighestBidder   string
	Settled         bool
	Claimed         bool
	Received        int64
	PaidOut         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Balance is one withdrawable ledger entry.
type Balance struct {
	AuctionID string
	Identity  string
	Amount    int64
}

// Event is one entry in an auction's append-only history.
type Event struct {
	ID        uuid.UUID
	AuctionID string
	Kind      string
	Actor     string
	Amount    int64
	At        time.Time
	CreatedAt time.Time
}

var ErrNotFound = errors.New("not found")
