package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"escrow/store"
	"escrow/store/pgstore"
	"escrow/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	if os.Getenv("PGCONNSTRING") == "" {
		t.Skipf("set PGCONNSTRING to run this test")
	}

	storetest.TestStore(t, pgstore.NewTestStore)
}

func TestPGStoreTransactionIsolation(t *testing.T) {
	t.Parallel()

	if os.Getenv("PGCONNSTRING") == "" {
		t.Skipf("set PGCONNSTRING to run this test")
	}

	var (
		ctx     = context.Background()
		s       = pgstore.NewTestStore(t)
		auction = storetest.NewAuction(t, s)
	)

	// Two writers both try to place the next bid on top of the same leader.
	// Steps only gate the first attempt; a retried transaction runs freely.
	runtx := func(bidder string, stepc <-chan int) error {
		attempt := 0
		step := func() {
			if attempt == 1 {
				t.Logf("%s: step %d", bidder, <-stepc)
			}
		}

		t.Logf("%s: step %d", bidder, <-stepc)

		return s.Transact(ctx, func(tx store.Store) error {
			attempt++

			a, err := tx.SelectAuction(ctx, auction.ID)
			if err != nil {
				return fmt.Errorf("SelectAuction: %w", err)
			}

			step()

			if a.HighestBid != auction.HighestBid {
				return fmt.Errorf("highest bid already moved to %d", a.HighestBid)
			}
			a.HighestBid += a.MinBidIncrement
			a.HighestBidder = bidder
			a.Received += a.HighestBid

			step()

			if err := tx.UpsertAuction(ctx, a); err != nil {
				return fmt.Errorf("UpsertAuction: %w", err)
			}

			return nil
		})
	}

	var (
		stepc1 = make(chan int, 100)
		errc1  = make(chan error, 1)
		stepc2 = make(chan int, 100)
		errc2  = make(chan error, 1)
	)
	go func() { errc1 <- runtx("alice", stepc1) }()
	go func() { errc2 <- runtx("bob", stepc2) }()

	stepc1 <- 1     // alice enters Transact
	stepc2 <- 2     // bob enters Transact
	stepc1 <- 3     // alice reads the auction
	stepc2 <- 4     // bob reads the same auction
	stepc1 <- 5     // alice writes
	err1 := <-errc1 // alice commits
	stepc2 <- 6     // bob writes on a stale read
	err2 := <-errc2 // bob must not commit

	if err1 != nil {
		t.Errorf("alice should have transacted, but had error: %v", err1)
	}

	if err2 == nil {
		t.Errorf("bob should have failed to transact, but succeeded")
	}

	have, err := s.SelectAuction(ctx, auction.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := "alice"; have.HighestBidder != want {
		t.Errorf("highest bidder: want %s, have %s", want, have.HighestBidder)
	}
}
