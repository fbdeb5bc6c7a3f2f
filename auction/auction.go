package auction

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"escrow/ledger"
)

// Auction is a single-lot escrowed auction. Every mutating call is serialized
// behind one mutex and is all-or-nothing: it works on a copy of the state,
// performs its external effect last, and commits only if that succeeded.
// Queries never take the mutex; they read the last committed state, so the
// registry and funds may call them from inside a mutation.
type Auction struct {
	terms      Terms
	address    Identity
	registries Registries
	funds      Funds
	clock      Clock
	journal    Journal

	mu sync.Mutex            // serializes mutations
	st atomic.Pointer[state] // committed state, never modified once stored
}

type state struct {
	phase         State
	assetRef      string
	assetID       string
	registry      Registry
	endAt         time.Time
	highestBid    int64
	highestBidder Identity
	settled       bool
	claimed       bool
	received      int64
	paidOut       int64
	ledger        *ledger.Ledger
}

func (s *state) clone() *state {
	c := *s
	c.ledger = s.ledger.Clone()
	return &c
}

func New(cfg Config) (*Auction, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &Auction{
		terms:      cfg.Terms,
		address:    cfg.Address,
		registries: cfg.Registries,
		funds:      cfg.Funds,
		clock:      cfg.Clock,
		journal:    cfg.Journal,
	}
	a.st.Store(&state{
		phase:  StateNotStarted,
		ledger: ledger.New(),
	})
	return a, nil
}

// Restore rebuilds an auction from a snapshot. The snapshot's terms and
// address win over the ones in cfg; cfg supplies the collaborators.
func Restore(cfg Config, snap Snapshot) (*Auction, error) {
	cfg.Terms = snap.Terms
	cfg.Address = snap.Address
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l, err := ledger.FromEntries(snap.Balances)
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}

	st := &state{
		phase:         snap.State,
		assetRef:      snap.AssetRef,
		assetID:       snap.AssetID,
		endAt:         snap.EndAt,
		highestBid:    snap.HighestBid,
		highestBidder: snap.HighestBidder,
		settled:       snap.Settled,
		claimed:       snap.Claimed,
		received:      snap.Received,
		paidOut:       snap.PaidOut,
		ledger:        l,
	}

	switch st.phase {
	case StateNotStarted:
	case StateStarted, StateCancelled:
		r, ok := cfg.Registries.Lookup(st.assetRef)
		if !ok {
			return nil, fmt.Errorf("unknown asset registry %q", st.assetRef)
		}
		st.registry = r
	default:
		return nil, fmt.Errorf("unknown auction state %q", st.phase)
	}

	if escrowed := escrowedBy(st); st.received != escrowed+st.ledger.Total()+st.paidOut {
		return nil, fmt.Errorf("snapshot does not balance: received %d, escrowed %d, withdrawable %d, paid out %d",
			st.received, escrowed, st.ledger.Total(), st.paidOut)
	}

	a := &Auction{
		terms:      cfg.Terms,
		address:    cfg.Address,
		registries: cfg.Registries,
		funds:      cfg.Funds,
		clock:      cfg.Clock,
		journal:    cfg.Journal,
	}
	a.st.Store(st)
	return a, nil
}

//
// queries
//

func (a *Auction) Seller() Identity       { return a.terms.Seller }
func (a *Auction) Address() Identity      { return a.address }
func (a *Auction) StartPrice() int64      { return a.terms.StartPrice }
func (a *Auction) BuyNowPrice() int64     { return a.terms.BuyNowPrice }
func (a *Auction) MinBidIncrement() int64 { return a.terms.MinBidIncrement }
func (a *Auction) Terms() Terms           { return a.terms }

func (a *Auction) State() State {
	return a.st.Load().phase
}

func (a *Auction) IsStarted() bool {
	return a.State() == StateStarted
}

// IsFinished is recomputed from the current time and highest bid on every
// call; nothing about it is stored.
func (a *Auction) IsFinished() bool {
	return a.finished(a.st.Load(), a.clock.Now())
}

// EndAt is the zero time until the auction starts.
func (a *Auction) EndAt() time.Time {
	return a.st.Load().endAt
}

func (a *Auction) Asset() (ref, id string) {
	s := a.st.Load()
	return s.assetRef, s.assetID
}

// AssetOwner asks the registry who currently holds the lot.
func (a *Auction) AssetOwner(ctx context.Context) (Identity, error) {
	s := a.st.Load()
	r, id := s.registry, s.assetID

	if r == nil {
		return NoOne, ErrNotStarted
	}
	return r.OwnerOf(ctx, id)
}

// HighestBid returns the leading amount and bidder; the bidder is NoOne
// before any valid bid and after a cancellation.
func (a *Auction) HighestBid() (int64, Identity) {
	s := a.st.Load()
	return s.highestBid, s.highestBidder
}

// MyBid is the caller's committed amount if they lead, and zero otherwise.
func (a *Auction) MyBid(caller Identity) int64 {
	s := a.st.Load()
	if caller == NoOne || caller != s.highestBidder {
		return 0
	}
	return s.highestBid
}

// Winner is only defined once the auction is finished. If no valid bid was
// ever placed, the seller wins their own lot back.
func (a *Auction) Winner() (Identity, error) {
	s := a.st.Load()
	if err := a.requireFinished(s, a.clock.Now()); err != nil {
		return NoOne, err
	}
	return a.winner(s), nil
}

// Balance is what caller could withdraw right now, including any settlement
// credit that the next mutating call will book.
func (a *Auction) Balance(caller Identity) int64 {
	view, now := a.st.Load(), a.clock.Now()
	if a.finished(view, now) && !view.settled {
		pending := view.clone()
		if _, err := a.settle(pending, now); err == nil {
			view = pending
		}
	}
	return view.ledger.Balance(string(caller))
}

func (a *Auction) Statement() Statement {
	return statementOf(a.st.Load())
}

func (a *Auction) Snapshot() Snapshot {
	return a.snapshotOf(a.st.Load())
}

// View reads the snapshot, the finished predicate and the statement from the
// same committed state.
func (a *Auction) View() View {
	s := a.st.Load()
	return View{
		Snapshot:  a.snapshotOf(s),
		Finished:  a.finished(s, a.clock.Now()),
		Statement: statementOf(s),
	}
}

//
// mutations
//

// Start moves the lot from the seller into escrow and opens bidding for
// Duration.
func (a *Auction) Start(ctx context.Context, caller Identity, assetRef, assetID string) error {
	return a.mutate(ctx, func(ctx context.Context, now time.Time, next *state) ([]Event, error) {
		if caller != a.terms.Seller {
			return nil, fmt.Errorf("%w: only the seller can start", ErrRoleViolation)
		}
		if next.phase != StateNotStarted {
			return nil, ErrAlreadyStarted
		}

		r, ok := a.registries.Lookup(assetRef)
		if !ok {
			return nil, fmt.Errorf("%w: unknown asset registry %q", ErrCustodyTransferFailed, assetRef)
		}

		next.phase = StateStarted
		next.assetRef = assetRef
		next.assetID = assetID
		next.registry = r
		next.endAt = now.Add(Duration)
		next.highestBid = a.terms.StartPrice
		next.highestBidder = NoOne

		if err := r.TransferCustody(ctx, a.terms.Seller, a.address, assetID); err != nil {
			return nil, fmt.Errorf("%w: %s/%s into escrow: %w", ErrCustodyTransferFailed, assetRef, assetID, err)
		}

		return []Event{{Kind: EventStarted, Actor: caller, At: now}}, nil
	})
}

// Bid places amount as the new leading bid. The previous leader's bid,
// including the caller's own earlier bid, becomes withdrawable.
func (a *Auction) Bid(ctx context.Context, caller Identity, amount int64) error {
	return a.mutate(ctx, func(ctx context.Context, now time.Time, next *state) ([]Event, error) {
		if err := a.requireOpen(next, now); err != nil {
			return nil, err
		}
		switch caller {
		case NoOne:
			return nil, fmt.Errorf("%w: no bidder", ErrRoleViolation)
		case a.terms.Seller:
			return nil, fmt.Errorf("%w: seller cannot bid", ErrRoleViolation)
		case a.address:
			return nil, fmt.Errorf("%w: escrow cannot bid", ErrRoleViolation)
		}

		if next.highestBid > math.MaxInt64-a.terms.MinBidIncrement {
			return nil, fmt.Errorf("%w: no higher bid is representable", ErrInsufficientBid)
		}
		if need := next.highestBid + a.terms.MinBidIncrement; amount < need {
			return nil, fmt.Errorf("%w: bid %d, need at least %d", ErrInsufficientBid, amount, need)
		}

		var events []Event
		if prev := next.highestBidder; prev != NoOne {
			if err := next.ledger.Credit(string(prev), next.highestBid); err != nil {
				return nil, fmt.Errorf("refund outbid %s: %w", prev, err)
			}
			events = append(events, Event{Kind: EventOutbid, Actor: prev, Amount: next.highestBid, At: now})
		}

		next.highestBid = amount
		next.highestBidder = caller
		next.received += amount

		if err := a.funds.Collect(ctx, caller, amount); err != nil {
			return nil, fmt.Errorf("%w: collect %d from %s: %w", ErrPaymentFailed, amount, caller, err)
		}

		return append(events, Event{Kind: EventBid, Actor: caller, Amount: amount, At: now}), nil
	})
}

// Cancel returns the lot to the seller and makes the leading bid withdrawable.
// Only a running, unfinished auction can be cancelled.
func (a *Auction) Cancel(ctx context.Context, caller Identity) error {
	return a.mutate(ctx, func(ctx context.Context, now time.Time, next *state) ([]Event, error) {
		if caller != a.terms.Seller {
			return nil, fmt.Errorf("%w: only the seller can cancel", ErrRoleViolation)
		}
		if err := a.requireOpen(next, now); err != nil {
			return nil, err
		}

		var refunded int64
		if leader := next.highestBidder; leader != NoOne {
			if err := next.ledger.Credit(string(leader), next.highestBid); err != nil {
				return nil, fmt.Errorf("refund leader %s: %w", leader, err)
			}
			refunded = next.highestBid
			next.highestBidder = NoOne
		}
		next.phase = StateCancelled

		if err := next.registry.TransferCustody(ctx, a.address, a.terms.Seller, next.assetID); err != nil {
			return nil, fmt.Errorf("%w: %s/%s back to seller: %w", ErrCustodyTransferFailed, next.assetRef, next.assetID, err)
		}

		return []Event{{Kind: EventCancelled, Actor: caller, Amount: refunded, At: now}}, nil
	})
}

// Claim hands the lot to the winner. It succeeds at most once.
func (a *Auction) Claim(ctx context.Context, caller Identity) error {
	return a.mutate(ctx, func(ctx context.Context, now time.Time, next *state) ([]Event, error) {
		if err := a.requireFinished(next, now); err != nil {
			return nil, err
		}
		winner := a.winner(next)
		if caller != winner {
			return nil, fmt.Errorf("%w: only the winner can claim", ErrRoleViolation)
		}
		if next.claimed {
			return nil, ErrAlreadyClaimed
		}

		events, err := a.settle(next, now)
		if err != nil {
			return nil, err
		}
		next.claimed = true

		if err := next.registry.TransferCustody(ctx, a.address, winner, next.assetID); err != nil {
			return nil, fmt.Errorf("%w: %s/%s to winner: %w", ErrCustodyTransferFailed, next.assetRef, next.assetID, err)
		}

		return append(events, Event{Kind: EventClaimed, Actor: caller, At: now}), nil
	})
}

// Withdraw pays out the caller's entire withdrawable balance.
func (a *Auction) Withdraw(ctx context.Context, caller Identity) (int64, error) {
	var paid int64
	err := a.mutate(ctx, func(ctx context.Context, now time.Time, next *state) ([]Event, error) {
		if caller == NoOne {
			return nil, fmt.Errorf("%w: no caller", ErrRoleViolation)
		}

		events, err := a.settle(next, now)
		if err != nil {
			return nil, err
		}

		amount := next.ledger.Take(string(caller))
		if amount <= 0 {
			return nil, ErrNothingToWithdraw
		}
		next.paidOut += amount

		if err := a.funds.Pay(ctx, caller, amount); err != nil {
			return nil, fmt.Errorf("%w: pay %d to %s: %w", ErrPaymentFailed, amount, caller, err)
		}

		paid = amount
		return append(events, Event{Kind: EventWithdrawn, Actor: caller, Amount: amount, At: now}), nil
	})
	return paid, err
}

//
//
//

type opFunc func(ctx context.Context, now time.Time, next *state) ([]Event, error)

func (a *Auction) mutate(ctx context.Context, op opFunc) error {
	if a.reentrant(ctx) {
		return ErrReentrantCall
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.st.Load().clone()
	events, err := op(a.outbound(ctx), a.clock.Now(), next)
	if err != nil {
		return err
	}

	a.st.Store(next)

	// The mutation is committed; a caller going away must not keep it out of
	// the journal.
	if a.journal != nil {
		a.journal.Record(context.WithoutCancel(ctx), events, a.snapshotOf(next))
	}

	return nil
}

type reentryKey struct{ a *Auction }

// outbound marks ctx before it is handed to the registry or funds, so a
// callback that tries to mutate this auction fails instead of deadlocking.
func (a *Auction) outbound(ctx context.Context) context.Context {
	return context.WithValue(ctx, reentryKey{a}, true)
}

func (a *Auction) reentrant(ctx context.Context) bool {
	_, ok := ctx.Value(reentryKey{a}).(bool)
	return ok
}

func (a *Auction) finished(s *state, now time.Time) bool {
	if s.phase != StateStarted {
		return false
	}
	return !now.Before(s.endAt) || s.highestBid >= a.terms.BuyNowPrice
}

func (a *Auction) requireOpen(s *state, now time.Time) error {
	switch {
	case s.phase == StateNotStarted:
		return ErrNotStarted
	case s.phase == StateCancelled:
		return ErrCancelled
	case a.finished(s, now):
		return ErrFinished
	}
	return nil
}

func (a *Auction) requireFinished(s *state, now time.Time) error {
	switch {
	case s.phase == StateNotStarted:
		return ErrNotStarted
	case s.phase == StateCancelled:
		return ErrCancelled
	case !a.finished(s, now):
		return ErrNotFinished
	}
	return nil
}

func (a *Auction) winner(s *state) Identity {
	if s.highestBidder == NoOne {
		return a.terms.Seller
	}
	return s.highestBidder
}

// settle books the seller's proceeds, capped at the buy now price, and the
// winner's surplus above it. It runs at most once per auction.
func (a *Auction) settle(s *state, now time.Time) ([]Event, error) {
	if s.settled || !a.finished(s, now) {
		return nil, nil
	}
	s.settled = true

	winner := s.highestBidder
	if winner == NoOne {
		return []Event{{Kind: EventSettled, Actor: a.terms.Seller, At: now}}, nil
	}

	price := min(s.highestBid, a.terms.BuyNowPrice)
	if err := s.ledger.Credit(string(a.terms.Seller), price); err != nil {
		return nil, fmt.Errorf("settle seller proceeds: %w", err)
	}
	if surplus := s.highestBid - price; surplus > 0 {
		if err := s.ledger.Credit(string(winner), surplus); err != nil {
			return nil, fmt.Errorf("settle winner surplus: %w", err)
		}
	}

	return []Event{{Kind: EventSettled, Actor: winner, Amount: price, At: now}}, nil
}

func (a *Auction) snapshotOf(s *state) Snapshot {
	return Snapshot{
		Terms:         a.terms,
		Address:       a.address,
		State:         s.phase,
		AssetRef:      s.assetRef,
		AssetID:       s.assetID,
		EndAt:         s.endAt,
		HighestBid:    s.highestBid,
		HighestBidder: s.highestBidder,
		Settled:       s.settled,
		Claimed:       s.claimed,
		Received:      s.received,
		PaidOut:       s.paidOut,
		Balances:      s.ledger.Entries(),
	}
}

func statementOf(s *state) Statement {
	return Statement{
		Received:     s.received,
		Escrowed:     escrowedBy(s),
		Withdrawable: s.ledger.Total(),
		PaidOut:      s.paidOut,
	}
}

// escrowedBy is the leading bid still held on the leader's behalf.
func escrowedBy(s *state) int64 {
	if s.highestBidder == NoOne || s.settled {
		return 0
	}
	return s.highestBid
}
