package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"escrow/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"
)

func TestStore(t *testing.T, makeStore func(*testing.T) store.Store) {
	ctx := context.Background()

	t.Run("SelectAuction", func(t *testing.T) {
		s := makeStore(t)
		auction := NewAuction(t, s)

		have, err := s.SelectAuction(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}

		want := auction
		if diff := cmp.Diff(have, want); diff != "" {
			t.Fatalf("mismatch: %s", diff)
		}

		if _, err := s.SelectAuction(ctx, "nonexistent"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("want %v, have %v", store.ErrNotFound, err)
		}
	})

	t.Run("UpsertAuction", func(t *testing.T) {
		s := makeStore(t)
		auction := NewAuction(t, s)
		createdAt := auction.CreatedAt

		bidder := GenAddr(t)
		auction.HighestBid = 10
		auction.HighestBidder = bidder
		auction.Received = 10
		auction.StartPrice = 999 // terms are fixed at creation
		if err := s.UpsertAuction(ctx, auction); err != nil {
			t.Fatal(err)
		}

		if !auction.CreatedAt.Equal(createdAt) {
			t.Errorf("created at changed: %s -> %s", createdAt, auction.CreatedAt)
		}
		if auction.UpdatedAt.Before(createdAt) {
			t.Errorf("updated at %s before created at %s", auction.UpdatedAt, createdAt)
		}

		have, err := s.SelectAuction(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		if want := int64(5); have.StartPrice != want {
			t.Errorf("start price: want %d, have %d", want, have.StartPrice)
		}
		if have.HighestBid != 10 || have.HighestBidder != bidder {
			t.Errorf("leader: want %s/%d, have %s/%d", bidder, 10, have.HighestBidder, have.HighestBid)
		}
	})

	t.Run("NotStartedAuction", func(t *testing.T) {
		s := makeStore(t)
		auction := &store.Auction{
			ID:              "not-started",
			Seller:          GenAddr(t),
			EscrowAddress:   GenAddr(t),
			BuyNowPrice:     10,
			MinBidIncrement: 1,
			State:           "not_started",
		}
		if err := s.UpsertAuction(ctx, auction); err != nil {
			t.Fatal(err)
		}

		have, err := s.SelectAuction(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(have, auction); diff != "" {
			t.Fatalf("mismatch: %s", diff)
		}
		if !have.EndAt.IsZero() || have.AssetRef != "" || have.HighestBidder != "" {
			t.Fatalf("unset fields came back set: %+v", have)
		}
	})

	t.Run("ListAuctions", func(t *testing.T) {
		s := makeStore(t)
		a1 := NewAuction(t, s)
		a2 := NewAuction(t, s)

		have, err := s.ListAuctions(ctx)
		if err != nil {
			t.Fatal(err)
		}

		want := []*store.Auction{a1, a2}
		sortAuctions := cmpopts.SortSlices(func(a, b *store.Auction) bool { return a.ID < b.ID })
		if diff := cmp.Diff(have, want, sortAuctions); diff != "" {
			t.Fatalf("mismatch: %s", diff)
		}
	})

	t.Run("ReplaceBalances", func(t *testing.T) {
		s := makeStore(t)
		auction := NewAuction(t, s)
		alice, bob := GenAddr(t), GenAddr(t)

		if err := s.ReplaceBalances(ctx, auction.ID, []*store.Balance{
			{Identity: alice, Amount: 10},
			{Identity: bob, Amount: 0},
		}); err != nil {
			t.Fatal(err)
		}

		have, err := s.ListBalances(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		want := []*store.Balance{{AuctionID: auction.ID, Identity: alice, Amount: 10}}
		if diff := cmp.Diff(have, want); diff != "" {
			t.Fatalf("mismatch: %s", diff)
		}

		if err := s.ReplaceBalances(ctx, auction.ID, []*store.Balance{
			{Identity: bob, Amount: 7},
		}); err != nil {
			t.Fatal(err)
		}

		have, err = s.ListBalances(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		want = []*store.Balance{{AuctionID: auction.ID, Identity: bob, Amount: 7}}
		if diff := cmp.Diff(have, want); diff != "" {
			t.Fatalf("mismatch after replace: %s", diff)
		}

		if err := s.ReplaceBalances(ctx, auction.ID, nil); err != nil {
			t.Fatal(err)
		}
		have, err = s.ListBalances(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(have) != 0 {
			t.Fatalf("want no balances, have %d", len(have))
		}
	})

	t.Run("ReplaceBalancesUnknownAuction", func(t *testing.T) {
		s := makeStore(t)
		err := s.ReplaceBalances(ctx, "nonexistent", []*store.Balance{{Identity: GenAddr(t), Amount: 1}})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("want %v, have %v", store.ErrNotFound, err)
		}
	})

	t.Run("ListEvents", func(t *testing.T) {
		s := makeStore(t)
		auction := NewAuction(t, s)
		other := NewAuction(t, s)

		e1 := NewEvent(t, s, auction, "started", 0)
		e2 := NewEvent(t, s, auction, "bid", 10)
		NewEvent(t, s, other, "started", 0)
		e3 := NewEvent(t, s, auction, "outbid", 10)

		have, err := s.ListEvents(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}

		want := []*store.Event{e1, e2, e3}
		if diff := cmp.Diff(have, want); diff != "" {
			t.Fatalf("mismatch: %s", diff)
		}
		for _, e := range have {
			if e.ID.IsNil() {
				t.Errorf("event %s has no ID", e.Kind)
			}
		}
	})

	t.Run("TransactRollback", func(t *testing.T) {
		s := makeStore(t)
		auction := NewAuction(t, s)
		errAbort := fmt.Errorf("abort")

		err := s.Transact(ctx, func(tx store.Store) error {
			a, err := tx.SelectAuction(ctx, auction.ID)
			if err != nil {
				return err
			}
			a.HighestBid = 50
			if err := tx.UpsertAuction(ctx, a); err != nil {
				return err
			}
			if err := tx.ReplaceBalances(ctx, a.ID, []*store.Balance{{Identity: GenAddr(t), Amount: 5}}); err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, &store.Event{AuctionID: a.ID, Kind: "bid", Amount: 50, At: Now()}); err != nil {
				return err
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("want %v, have %v", errAbort, err)
		}

		have, err := s.SelectAuction(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		if want := auction.HighestBid; have.HighestBid != want {
			t.Errorf("highest bid: want %d, have %d", want, have.HighestBid)
		}
		if balances, err := s.ListBalances(ctx, auction.ID); err != nil || len(balances) != 0 {
			t.Errorf("balances: want none, have %v (%v)", balances, err)
		}
		if events, err := s.ListEvents(ctx, auction.ID); err != nil || len(events) != 0 {
			t.Errorf("events: want none, have %v (%v)", events, err)
		}
	})

	t.Run("ConcurrentEvents", func(t *testing.T) {
		s := makeStore(t)
		auction := NewAuction(t, s)

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			amount := int64(i + 1)
			g.Go(func() error {
				return s.InsertEvent(ctx, &store.Event{AuctionID: auction.ID, Kind: "bid", Amount: amount, At: Now()})
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		events, err := s.ListEvents(ctx, auction.ID)
		if err != nil {
			t.Fatal(err)
		}
		if want, have := 8, len(events); want != have {
			t.Fatalf("event count: want %d, have %d", want, have)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := makeStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})
}
