package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"escrow/auction"
	"escrow/clock"
	"escrow/escrow"
	"escrow/registry"
	"escrow/store"
	"escrow/store/memstore"
	"escrow/value"

	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

const (
	auctionID = "lot-1"

	seller     = auction.Identity("seller")
	escrowAddr = auction.Identity("escrow")
	alice      = auction.Identity("alice")
	bob        = auction.Identity("bob")
)

var terms = auction.Terms{
	Seller:          seller,
	StartPrice:      5,
	BuyNowPrice:     100,
	MinBidIncrement: 1,
}

type world struct {
	store    *memstore.Store
	clock    *clock.Manual
	bank     *value.Bank
	registry *registry.Memory
}

func newWorld(t *testing.T) *world {
	t.Helper()

	w := &world{
		store:    memstore.NewStore(),
		clock:    clock.NewManual(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)),
		bank:     value.NewBank(),
		registry: registry.NewMemory(escrowAddr),
	}

	if err := w.registry.Mint(seller, "1"); err != nil {
		t.Fatal(err)
	}
	if err := w.registry.Approve(seller, escrowAddr, "1"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []auction.Identity{alice, bob} {
		if err := w.bank.Deposit(id, 1000); err != nil {
			t.Fatal(err)
		}
	}

	return w
}

func (w *world) config(terms auction.Terms) auction.Config {
	return auction.Config{
		Terms:      terms,
		Address:    escrowAddr,
		Registries: registry.Directory{"nft": w.registry},
		Funds:      w.bank.Escrow(escrowAddr),
		Clock:      w.clock,
		Journal:    escrow.NewJournal(auctionID, w.store, log.NewNopLogger()),
	}
}

func (w *world) service(t *testing.T, terms auction.Terms) *escrow.CoreService {
	t.Helper()

	a, err := escrow.Load(context.Background(), auctionID, w.store, w.config(terms))
	if err != nil {
		t.Fatal(err)
	}
	return escrow.NewCoreService(auctionID, a, w.store, log.NewNopLogger())
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	s := w.service(t, terms)

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Started || status.State != auction.StateNotStarted {
		t.Fatalf("fresh auction: %+v", status)
	}

	if _, err := s.Start(ctx, seller, "nft", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bid(ctx, alice, 10); err != nil {
		t.Fatal(err)
	}
	status, err = s.Bid(ctx, bob, 20)
	if err != nil {
		t.Fatal(err)
	}
	if status.HighestBid != 20 || status.HighestBidder != bob {
		t.Fatalf("leader: have %s/%d", status.HighestBidder, status.HighestBid)
	}

	if have, err := s.Balance(ctx, alice); err != nil || have != 10 {
		t.Fatalf("alice balance: want 10, have %d (%v)", have, err)
	}
	if have, err := s.MyBid(ctx, bob); err != nil || have != 20 {
		t.Fatalf("bob MyBid: want 20, have %d (%v)", have, err)
	}
	if _, err := s.Winner(ctx); !errors.Is(err, auction.ErrNotFinished) {
		t.Fatalf("winner early: want %v, have %v", auction.ErrNotFinished, err)
	}

	w.clock.Advance(auction.Duration)

	if _, err := s.Claim(ctx, bob); err != nil {
		t.Fatal(err)
	}
	paid, err := s.Withdraw(ctx, seller)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := int64(20), paid; want != have {
		t.Fatalf("seller proceeds: want %d, have %d", want, have)
	}

	status, err = s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := auction.Statement{Received: 30, Escrowed: 0, Withdrawable: 10, PaidOut: 20}
	if diff := cmp.Diff(want, status.Statement); diff != "" {
		t.Fatalf("statement: %s", diff)
	}
}

func TestJournalPersistsEveryCommit(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	s := w.service(t, terms)

	if _, err := s.Start(ctx, seller, "nft", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bid(ctx, alice, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bid(ctx, bob, 10); !errors.Is(err, auction.ErrInsufficientBid) {
		t.Fatalf("low bid: want %v, have %v", auction.ErrInsufficientBid, err)
	}
	if _, err := s.Bid(ctx, bob, 11); err != nil {
		t.Fatal(err)
	}

	stored, err := w.store.SelectAuction(ctx, auctionID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != "started" || stored.HighestBid != 11 || stored.HighestBidder != string(bob) {
		t.Fatalf("stored auction: %+v", stored)
	}

	balances, err := w.store.ListBalances(ctx, auctionID)
	if err != nil {
		t.Fatal(err)
	}
	wantBalances := []*store.Balance{{AuctionID: auctionID, Identity: string(alice), Amount: 10}}
	if diff := cmp.Diff(wantBalances, balances); diff != "" {
		t.Fatalf("balances: %s", diff)
	}

	events, err := w.store.ListEvents(ctx, auctionID)
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	if diff := cmp.Diff([]string{"started", "bid", "outbid", "bid"}, kinds); diff != "" {
		t.Fatalf("events: %s", diff)
	}
}

func TestLoadRestoresStoredAuction(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	s := w.service(t, terms)

	if _, err := s.Start(ctx, seller, "nft", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bid(ctx, alice, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bid(ctx, bob, 12); err != nil {
		t.Fatal(err)
	}

	// A restart with no terms configured picks everything up from the store.
	restarted := w.service(t, auction.Terms{})
	status, err := restarted.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.HighestBid != 12 || status.HighestBidder != bob || !status.Started {
		t.Fatalf("restored status: %+v", status)
	}
	if want, have := terms.BuyNowPrice, status.BuyNowPrice; want != have {
		t.Fatalf("restored buy now price: want %d, have %d", want, have)
	}
	if have, _ := restarted.Balance(ctx, alice); have != 10 {
		t.Fatalf("restored alice balance: want 10, have %d", have)
	}

	if _, err := restarted.Bid(ctx, alice, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := restarted.Claim(ctx, alice); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRejectsConflictingTerms(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.service(t, terms)

	conflicting := terms
	conflicting.BuyNowPrice = 200
	if _, err := escrow.Load(ctx, auctionID, w.store, w.config(conflicting)); !errors.Is(err, auction.ErrInvalidTerms) {
		t.Fatalf("want %v, have %v", auction.ErrInvalidTerms, err)
	}
}

func TestLoadRejectsInvalidTerms(t *testing.T) {
	w := newWorld(t)

	invalid := terms
	invalid.BuyNowPrice = invalid.StartPrice
	if _, err := escrow.Load(context.Background(), auctionID, w.store, w.config(invalid)); !errors.Is(err, auction.ErrInvalidTerms) {
		t.Fatalf("want %v, have %v", auction.ErrInvalidTerms, err)
	}
}

func TestServiceEvents(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	s := w.service(t, terms)

	if _, err := s.Start(ctx, seller, "nft", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bid(ctx, alice, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Withdraw(ctx, seller); err != nil {
		t.Fatal(err)
	}

	events, err := s.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}

	type row struct {
		Kind   string
		Actor  string
		Amount int64
	}
	var have []row
	for _, e := range events {
		have = append(have, row{e.Kind, e.Actor, e.Amount})
	}
	want := []row{
		{"started", string(seller), 0},
		{"bid", string(alice), 100},
		{"settled", string(alice), 100},
		{"withdrawn", string(seller), 100},
	}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Fatalf("events: %s", diff)
	}
}

func TestStatusIsConsistent(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	s := w.service(t, terms)

	if _, err := s.Start(ctx, seller, "nft", "1"); err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	g.Go(func() error {
		for amount := int64(10); amount <= terms.BuyNowPrice; amount += 10 {
			bidder := alice
			if amount%20 == 0 {
				bidder = bob
			}
			if _, err := s.Bid(ctx, bidder, amount); err != nil {
				return fmt.Errorf("bid %d: %w", amount, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 1000; i++ {
			st, err := s.Status(ctx)
			if err != nil {
				return err
			}
			if st.HighestBid >= st.BuyNowPrice && !st.Finished {
				return fmt.Errorf("highest bid %d reached buy now price but auction not finished", st.HighestBid)
			}
			if sum := st.Statement.Escrowed + st.Statement.Withdrawable + st.Statement.PaidOut; sum != st.Statement.Received {
				return fmt.Errorf("torn statement: %+v", st.Statement)
			}
			if st.HighestBidder != auction.NoOne && st.HighestBid != st.Statement.Escrowed {
				return fmt.Errorf("highest bid %d, escrowed %d", st.HighestBid, st.Statement.Escrowed)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestMockServiceErr(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	m := escrow.NewMockServiceErr("x", errBoom)

	if want, have := "x", m.ID(); want != have {
		t.Errorf("ID: want %s, have %s", want, have)
	}
	if _, err := m.Bid(ctx, alice, 1); !errors.Is(err, errBoom) {
		t.Errorf("Bid: want %v, have %v", errBoom, err)
	}
	if _, err := m.Withdraw(ctx, alice); !errors.Is(err, errBoom) {
		t.Errorf("Withdraw: want %v, have %v", errBoom, err)
	}
}
