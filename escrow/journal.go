package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow/auction"
	"escrow/ledger"
	"escrow/metrics"
	"escrow/store"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Journal persists every committed auction mutation: the snapshot, the full
// ledger, and the events, in one store transaction.
type Journal struct {
	id     string
	store  store.Store
	logger log.Logger
}

var _ auction.Journal = (*Journal)(nil)

func NewJournal(id string, s store.Store, logger log.Logger) *Journal {
	return &Journal{
		id:     id,
		store:  s,
		logger: logger,
	}
}

// Record cannot fail the mutation, which is already committed in memory. A
// failed write is logged and counted, and the next successful one catches
// the store up, since every write carries the complete state.
func (j *Journal) Record(ctx context.Context, events []auction.Event, snap auction.Snapshot) {
	if err := j.write(ctx, events, snap); err != nil {
		metrics.JournalErrorsTotal.WithLabelValues(j.id).Inc()
		level.Error(j.logger).Log("msg", "journal write failed", "auction_id", j.id, "events", len(events), "err", err)
	}
}

func (j *Journal) write(ctx context.Context, events []auction.Event, snap auction.Snapshot) error {
	defer func(begin time.Time) {
		metrics.OpWait("journal_write", time.Since(begin))
	}(time.Now())

	return j.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.UpsertAuction(ctx, toStoreAuction(j.id, snap)); err != nil {
			return fmt.Errorf("upsert auction: %w", err)
		}

		if err := tx.ReplaceBalances(ctx, j.id, toStoreBalances(j.id, snap.Balances)); err != nil {
			return fmt.Errorf("replace balances: %w", err)
		}

		for _, e := range events {
			if err := tx.InsertEvent(ctx, &store.Event{
				AuctionID: j.id,
				Kind:      string(e.Kind),
				Actor:     string(e.Actor),
				Amount:    e.Amount,
				At:        e.At,
			}); err != nil {
				return fmt.Errorf("insert %s event: %w", e.Kind, err)
			}
		}

		return nil
	})
}

// Load returns the auction stored under id, restored with the collaborators
// in cfg, or a new auction with cfg's terms if none is stored. Stored terms
// win; cfg terms that disagree with them are an error.
func Load(ctx context.Context, id string, s store.Store, cfg auction.Config) (*auction.Auction, error) {
	stored, err := s.SelectAuction(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a, err := auction.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := NewJournal(id, s, log.NewNopLogger()).write(ctx, nil, a.Snapshot()); err != nil {
			return nil, fmt.Errorf("persist new auction: %w", err)
		}
		return a, nil

	case err != nil:
		return nil, fmt.Errorf("select auction %s: %w", id, err)
	}

	balances, err := s.ListBalances(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list balances for %s: %w", id, err)
	}

	snap, err := toSnapshot(stored, balances)
	if err != nil {
		return nil, fmt.Errorf("decode stored auction %s: %w", id, err)
	}

	if err := checkTerms(snap, cfg); err != nil {
		return nil, fmt.Errorf("auction %s: %w", id, err)
	}

	return auction.Restore(cfg, snap)
}

// checkTerms rejects configured terms that contradict the stored ones. Zero
// values in cfg mean "not configured" and always match.
func checkTerms(snap auction.Snapshot, cfg auction.Config) error {
	for _, c := range []struct {
		name     string
		conflict bool
	}{
		{"seller", cfg.Seller != auction.NoOne && cfg.Seller != snap.Seller},
		{"escrow address", cfg.Address != auction.NoOne && cfg.Address != snap.Address},
		{"start price", cfg.StartPrice != 0 && cfg.StartPrice != snap.StartPrice},
		{"buy now price", cfg.BuyNowPrice != 0 && cfg.BuyNowPrice != snap.BuyNowPrice},
		{"min bid increment", cfg.MinBidIncrement != 0 && cfg.MinBidIncrement != snap.MinBidIncrement},
	} {
		if c.conflict {
			return fmt.Errorf("%w: configured %s differs from stored auction", auction.ErrInvalidTerms, c.name)
		}
	}
	return nil
}

//
//
//

func toStoreAuction(id string, snap auction.Snapshot) *store.Auction {
	return &store.Auction{
		ID:              id,
		Seller:          string(snap.Seller),
		EscrowAddress:   string(snap.Address),
		StartPrice:      snap.StartPrice,
		BuyNowPrice:     snap.BuyNowPrice,
		MinBidIncrement: snap.MinBidIncrement,
		State:           string(snap.State),
		AssetRef:        snap.AssetRef,
		AssetID:         snap.AssetID,
		EndAt:           snap.EndAt,
		HighestBid:      snap.HighestBid,
		HighestBidder:   string(snap.HighestBidder),
		Settled:         snap.Settled,
		Claimed:         snap.Claimed,
		Received:        snap.Received,
		PaidOut:         snap.PaidOut,
	}
}

func toStoreBalances(id string, entries []ledger.Entry) []*store.Balance {
	balances := make([]*store.Balance, len(entries))
	for i, e := range entries {
		balances[i] = &store.Balance{AuctionID: id, Identity: e.Identity, Amount: e.Amount}
	}
	return balances
}

func toSnapshot(a *store.Auction, balances []*store.Balance) (auction.Snapshot, error) {
	state, err := auction.ParseState(a.State)
	if err != nil {
		return auction.Snapshot{}, err
	}

	entries := make([]ledger.Entry, len(balances))
	for i, b := range balances {
		entries[i] = ledger.Entry{Identity: b.Identity, Amount: b.Amount}
	}

	return auction.Snapshot{
		Terms: auction.Terms{
			Seller:          auction.Identity(a.Seller),
			StartPrice:      a.StartPrice,
			BuyNowPrice:     a.BuyNowPrice,
			MinBidIncrement: a.MinBidIncrement,
		},
		Address:       auction.Identity(a.EscrowAddress),
		State:         state,
		AssetRef:      a.AssetRef,
		AssetID:       a.AssetID,
		EndAt:         a.EndAt,
		HighestBid:    a.HighestBid,
		HighestBidder: auction.Identity(a.HighestBidder),
		Settled:       a.Settled,
		Claimed:       a.Claimed,
		Received:      a.Received,
		PaidOut:       a.PaidOut,
		Balances:      entries,
	}, nil
}
