package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"escrow/store"

	"github.com/gofrs/uuid"
	"golang.org/x/exp/maps"
)

type Store struct {
	txmu sync.Mutex

	mu       sync.Mutex
	auctions map[string]*store.Auction
	balances map[string][]*store.Balance
	events   map[string][]*store.Event
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		auctions: map[string]*store.Auction{},
		balances: map[string][]*store.Balance{},
		events:   map[string][]*store.Event{},
	}
}

// Transact serializes transactions and restores the previous contents if f
// fails.
func (s *Store) Transact(ctx context.Context, f func(store.Store) error) error {
	s.txmu.Lock()
	defer s.txmu.Unlock()

	s.mu.Lock()
	var (
		auctions = maps.Clone(s.auctions)
		balances = maps.Clone(s.balances)
		events   = maps.Clone(s.events)
	)
	s.mu.Unlock()

	if err := f(s); err != nil {
		s.mu.Lock()
		s.auctions, s.balances, s.events = auctions, balances, events
		s.mu.Unlock()
		return err
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) UpsertAuction(ctx context.Context, a *store.Auction) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	newAuction := *a
	if existing, ok := s.auctions[a.ID]; ok { // update
		newAuction.Seller = existing.Seller
		newAuction.EscrowAddress = existing.EscrowAddress
		newAuction.StartPrice = existing.StartPrice
		newAuction.BuyNowPrice = existing.BuyNowPrice
		newAuction.MinBidIncrement = existing.MinBidIncrement
		newAuction.CreatedAt = existing.CreatedAt
	} else { // create
		newAuction.CreatedAt = now
	}
	newAuction.UpdatedAt = now

	a.CreatedAt, a.UpdatedAt = newAuction.CreatedAt, newAuction.UpdatedAt

	// Stored values are replaced, never mutated, so cloned maps stay valid.
	s.auctions[a.ID] = &newAuction

	return nil
}

func (s *Store) SelectAuction(ctx context.Context, id string) (*store.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	aa := *a
	return &aa, nil
}

func (s *Store) ListAuctions(ctx context.Context) ([]*store.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auctions := make([]*store.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		aa := *a
		auctions = append(auctions, &aa)
	}

	sort.SliceStable(auctions, func(i, j int) bool {
		return auctions[i].ID < auctions[j].ID
	})

	return auctions, nil
}

func (s *Store) ReplaceBalances(ctx context.Context, auctionID string, balances []*store.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[auctionID]; !ok {
		return fmt.Errorf("auction %s: %w", auctionID, store.ErrNotFound)
	}

	stored := make([]*store.Balance, 0, len(balances))
	for _, b := range balances {
		if b.Amount == 0 {
			continue
		}
		bb := *b
		bb.AuctionID = auctionID
		stored = append(stored, &bb)
	}

	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].Identity < stored[j].Identity
	})

	s.balances[auctionID] = stored
	return nil
}

func (s *Store) ListBalances(ctx context.Context, auctionID string) ([]*store.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make([]*store.Balance, 0, len(s.balances[auctionID]))
	for _, b := range s.balances[auctionID] {
		bb := *b
		balances = append(balances, &bb)
	}

	return balances, nil
}

func (s *Store) InsertEvent(ctx context.Context, e *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[e.AuctionID]; !ok {
		return fmt.Errorf("auction %s: %w", e.AuctionID, store.ErrNotFound)
	}

	if e.ID.IsNil() {
		var err error
		if e.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
	}

	e.CreatedAt = time.Now().UTC()

	newEvent := *e
	events := s.events[e.AuctionID]
	s.events[e.AuctionID] = append(events[:len(events):len(events)], &newEvent)

	return nil
}

func (s *Store) ListEvents(ctx context.Context, auctionID string) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]*store.Event, 0, len(s.events[auctionID]))
	for _, e := range s.events[auctionID] {
		ee := *e
		events = append(events, &ee)
	}

	return events, nil
}
