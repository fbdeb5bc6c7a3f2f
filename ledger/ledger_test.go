package ledger_test

import (
	"errors"
	"testing"

	"escrow/ledger"

	"github.com/google/go-cmp/cmp"
)

func TestCreditTake(t *testing.T) {
	l := ledger.New()

	if err := l.Credit("alice", 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("alice", 5); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("bob", 7); err != nil {
		t.Fatal(err)
	}

	if want, have := int64(15), l.Balance("alice"); want != have {
		t.Errorf("alice balance: want %d, have %d", want, have)
	}
	if want, have := int64(22), l.Total(); want != have {
		t.Errorf("total: want %d, have %d", want, have)
	}

	if want, have := int64(15), l.Take("alice"); want != have {
		t.Errorf("take alice: want %d, have %d", want, have)
	}
	if want, have := int64(0), l.Take("alice"); want != have {
		t.Errorf("second take alice: want %d, have %d", want, have)
	}
	if want, have := 1, l.Len(); want != have {
		t.Errorf("len: want %d, have %d", want, have)
	}
}

func TestCreditRejectsNonPositive(t *testing.T) {
	l := ledger.New()
	for _, amount := range []int64{0, -1} {
		if err := l.Credit("alice", amount); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("credit %d: want %v, have %v", amount, ledger.ErrInvalidAmount, err)
		}
	}
	if want, have := int64(0), l.Total(); want != have {
		t.Errorf("total: want %d, have %d", want, have)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	l := ledger.New()
	l.Credit("alice", 3)

	c := l.Clone()
	c.Credit("alice", 4)
	c.Take("alice")
	c.Credit("carol", 1)

	if want, have := []ledger.Entry{{Identity: "alice", Amount: 3}}, l.Entries(); !cmp.Equal(want, have) {
		t.Errorf("original mutated: %s", cmp.Diff(want, have))
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	l := ledger.New()
	l.Credit("zed", 1)
	l.Credit("amy", 2)
	l.Credit("mo", 3)

	want := []ledger.Entry{
		{Identity: "amy", Amount: 2},
		{Identity: "mo", Amount: 3},
		{Identity: "zed", Amount: 1},
	}
	if diff := cmp.Diff(want, l.Entries()); diff != "" {
		t.Fatalf("entries mismatch: %s", diff)
	}

	r, err := ledger.FromEntries(append(want, ledger.Entry{Identity: "nobody", Amount: 0}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, r.Entries()); diff != "" {
		t.Fatalf("rebuilt mismatch: %s", diff)
	}

	if _, err := ledger.FromEntries([]ledger.Entry{{Identity: "x", Amount: -1}}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("negative entry: want %v, have %v", ledger.ErrInvalidAmount, err)
	}
}
