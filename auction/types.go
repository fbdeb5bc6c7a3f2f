package auction

import (
	"fmt"
	"strings"
	"time"

	"escrow/clock"
	"escrow/ledger"

	"github.com/hashicorp/go-multierror"
)

// Duration is how long an auction runs after Start.
const Duration = 7 * 24 * time.Hour

type State string

const (
	StateNotStarted State = "not_started"
	StateStarted    State = "started"
	StateCancelled  State = "cancelled"
)

func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case string(StateNotStarted):
		return StateNotStarted, nil
	case string(StateStarted):
		return StateStarted, nil
	case string(StateCancelled):
		return StateCancelled, nil
	default:
		return "", fmt.Errorf("unknown auction state %q", s)
	}
}

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventBid       EventKind = "bid"
	EventOutbid    EventKind = "outbid"
	EventCancelled EventKind = "cancelled"
	EventSettled   EventKind = "settled"
	EventClaimed   EventKind = "claimed"
	EventWithdrawn EventKind = "withdrawn"
)

// Event describes one effect of a committed mutation. Amount is the value
// moved or credited, if any.
type Event struct {
	Kind   EventKind
	Actor  Identity
	Amount int64
	At     time.Time
}

// Terms are the immutable economic parameters of an auction.
type Terms struct {
	Seller          Identity
	StartPrice      int64
	BuyNowPrice     int64
	MinBidIncrement int64
}

func (t Terms) Validate() error {
	var merr *multierror.Error
	if t.Seller == NoOne {
		merr = multierror.Append(merr, fmt.Errorf("seller missing"))
	}
	if t.StartPrice < 0 {
		merr = multierror.Append(merr, fmt.Errorf("start price %d is negative", t.StartPrice))
	}
	if t.BuyNowPrice <= t.StartPrice {
		merr = multierror.Append(merr, fmt.Errorf("buy now price %d must exceed start price %d", t.BuyNowPrice, t.StartPrice))
	}
	if t.MinBidIncrement <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("min bid increment %d must be positive", t.MinBidIncrement))
	}
	if err := merr.ErrorOrNil(); err != nil {
		merr.ErrorFormat = joinErrorStrings
		return fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	return nil
}

// Config is everything needed to construct or restore an auction.
type Config struct {
	Terms

	// Address is the escrow's own identity: the custody holder in the
	// registry and the account bids are collected into.
	Address Identity

	Registries Registries
	Funds      Funds
	Clock      Clock   // optional, defaults to the system clock
	Journal    Journal // optional
}

func (cfg *Config) validate() error {
	if err := cfg.Terms.Validate(); err != nil {
		return err
	}
	switch {
	case cfg.Address == NoOne:
		return fmt.Errorf("missing escrow address")
	case cfg.Address == cfg.Seller:
		return fmt.Errorf("escrow address must differ from seller")
	case cfg.Registries == nil:
		return fmt.Errorf("missing asset registries")
	case cfg.Funds == nil:
		return fmt.Errorf("missing funds")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return nil
}

// Snapshot is the complete serializable state of an auction.
type Snapshot struct {
	Terms
	Address       Identity
	State         State
	AssetRef      string
	AssetID       string
	EndAt         time.Time
	HighestBid    int64
	HighestBidder Identity
	Settled       bool
	Claimed       bool
	Received      int64
	PaidOut       int64
	Balances      []ledger.Entry
}

// View is a consistent read of an auction at one instant.
type View struct {
	Snapshot
	Finished  bool
	Statement Statement
}

// Statement is the auction's fund accounting at one instant. Received always
// equals Escrowed + Withdrawable + PaidOut.
type Statement struct {
	Received     int64
	Escrowed     int64
	Withdrawable int64
	PaidOut      int64
}

func joinErrorStrings(errs []error) string {
	strs := make([]string, len(errs))
	for i := range errs {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "; ")
}
