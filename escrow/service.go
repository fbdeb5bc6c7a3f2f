package escrow

import (
	"context"
	"fmt"
	"time"

	"escrow/auction"
	"escrow/metrics"
	"escrow/store"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type Identity = auction.Identity

// Status is a point-in-time view of an auction for API consumers.
type Status struct {
	ID              string
	Seller          Identity
	Escrow          Identity
	StartPrice      int64
	BuyNowPrice     int64
	MinBidIncrement int64
	State           auction.State
	Started         bool
	Finished        bool
	AssetRef        string
	AssetID         string
	EndAt           time.Time
	HighestBid      int64
	HighestBidder   Identity
	Statement       auction.Statement
}

type Service interface {
	ID() string
	Ping(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)
	Balance(ctx context.Context, caller Identity) (int64, error)
	MyBid(ctx context.Context, caller Identity) (int64, error)
	Winner(ctx context.Context) (Identity, error)
	Events(ctx context.Context) ([]*store.Event, error)
	Start(ctx context.Context, caller Identity, assetRef, assetID string) (*Status, error)
	Bid(ctx context.Context, caller Identity, amount int64) (*Status, error)
	Cancel(ctx context.Context, caller Identity) (*Status, error)
	Claim(ctx context.Context, caller Identity) (*Status, error)
	Withdraw(ctx context.Context, caller Identity) (int64, error)
}

//
//
//

type MockService struct {
	IDFunc       func() string
	PingFunc     func(ctx context.Context) error
	StatusFunc   func(ctx context.Context) (*Status, error)
	BalanceFunc  func(ctx context.Context, caller Identity) (int64, error)
	MyBidFunc    func(ctx context.Context, caller Identity) (int64, error)
	WinnerFunc   func(ctx context.Context) (Identity, error)
	StartFunc    func(ctx context.Context, caller Identity, assetRef, assetID string) (*Status, error)
	BidFunc      func(ctx context.Context, caller Identity, amount int64) (*Status, error)
	CancelFunc   func(ctx context.Context, caller Identity) (*Status, error)
	ClaimFunc    func(ctx context.Context, caller Identity) (*Status, error)
	WithdrawFunc func(ctx context.Context, caller Identity) (int64, error)
	EventsFunc   func(ctx context.Context) ([]*store.Event, error)
}

var _ Service = (*MockService)(nil)

func NewMockServiceErr(id string, err error) *MockService {
	return &MockService{
		IDFunc:       func() string { return id },
		PingFunc:     func(ctx context.Context) error { return err },
		StatusFunc:   func(ctx context.Context) (*Status, error) { return nil, err },
		BalanceFunc:  func(ctx context.Context, caller Identity) (int64, error) { return 0, err },
		MyBidFunc:    func(ctx context.Context, caller Identity) (int64, error) { return 0, err },
		WinnerFunc:   func(ctx context.Context) (Identity, error) { return auction.NoOne, err },
		CancelFunc:   func(ctx context.Context, caller Identity) (*Status, error) { return nil, err },
		ClaimFunc:    func(ctx context.Context, caller Identity) (*Status, error) { return nil, err },
		WithdrawFunc: func(ctx context.Context, caller Identity) (int64, error) { return 0, err },
		EventsFunc:   func(ctx context.Context) ([]*store.Event, error) { return nil, err },
		StartFunc: func(ctx context.Context, caller Identity, assetRef, assetID string) (*Status, error) {
			return nil, err
		},
		BidFunc: func(ctx context.Context, caller Identity, amount int64) (*Status, error) {
			return nil, err
		},
	}
}

func (m *MockService) ID() string                     { return m.IDFunc() }
func (m *MockService) Ping(ctx context.Context) error { return m.PingFunc(ctx) }

func (m *MockService) Status(ctx context.Context) (*Status, error) {
	return m.StatusFunc(ctx)
}

func (m *MockService) Balance(ctx context.Context, caller Identity) (int64, error) {
	return m.BalanceFunc(ctx, caller)
}

func (m *MockService) MyBid(ctx context.Context, caller Identity) (int64, error) {
	return m.MyBidFunc(ctx, caller)
}

func (m *MockService) Winner(ctx context.Context) (Identity, error) {
	return m.WinnerFunc(ctx)
}

func (m *MockService) Start(ctx context.Context, caller Identity, assetRef, assetID string) (*Status, error) {
	return m.StartFunc(ctx, caller, assetRef, assetID)
}

func (m *MockService) Bid(ctx context.Context, caller Identity, amount int64) (*Status, error) {
	return m.BidFunc(ctx, caller, amount)
}

func (m *MockService) Cancel(ctx context.Context, caller Identity) (*Status, error) {
	return m.CancelFunc(ctx, caller)
}

func (m *MockService) Claim(ctx context.Context, caller Identity) (*Status, error) {
	return m.ClaimFunc(ctx, caller)
}

func (m *MockService) Withdraw(ctx context.Context, caller Identity) (int64, error) {
	return m.WithdrawFunc(ctx, caller)
}

func (m *MockService) Events(ctx context.Context) ([]*store.Event, error) {
	return m.EventsFunc(ctx)
}

//
//
//

// CoreService exposes one auction, logging and counting every operation.
type CoreService struct {
	id      string
	auction *auction.Auction
	store   store.Store
	logger  log.Logger
}

var _ Service = (*CoreService)(nil)

func NewCoreService(id string, a *auction.Auction, s store.Store, logger log.Logger) *CoreService {
	return &CoreService{
		id:      id,
		auction: a,
		store:   s,
		logger:  log.With(logger, "auction_id", id),
	}
}

func (s *CoreService) ID() string {
	return s.id
}

func (s *CoreService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

func (s *CoreService) Status(ctx context.Context) (*Status, error) {
	v := s.auction.View()

	return &Status{
		ID:              s.id,
		Seller:          v.Seller,
		Escrow:          v.Address,
		StartPrice:      v.StartPrice,
		BuyNowPrice:     v.BuyNowPrice,
		MinBidIncrement: v.MinBidIncrement,
		State:           v.State,
		Started:         v.State == auction.StateStarted,
		Finished:        v.Finished,
		AssetRef:        v.AssetRef,
		AssetID:         v.AssetID,
		EndAt:           v.EndAt,
		HighestBid:      v.HighestBid,
		HighestBidder:   v.HighestBidder,
		Statement:       v.Statement,
	}, nil
}

func (s *CoreService) Balance(ctx context.Context, caller Identity) (int64, error) {
	return s.auction.Balance(caller), nil
}

func (s *CoreService) MyBid(ctx context.Context, caller Identity) (int64, error) {
	return s.auction.MyBid(caller), nil
}

func (s *CoreService) Winner(ctx context.Context) (Identity, error) {
	return s.auction.Winner()
}

// Events is the journaled history of the auction, oldest first.
func (s *CoreService) Events(ctx context.Context) ([]*store.Event, error) {
	events, err := s.store.ListEvents(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *CoreService) Start(ctx context.Context, caller Identity, assetRef, assetID string) (_ *Status, err error) {
	defer s.observe("start", caller, &err)

	if err := s.auction.Start(ctx, caller, assetRef, assetID); err != nil {
		return nil, err
	}

	level.Debug(s.logger).Log("op", "start", "caller", caller, "asset_ref", assetRef, "asset_id", assetID, "end_at", s.auction.EndAt())

	return s.Status(ctx)
}

func (s *CoreService) Bid(ctx context.Context, caller Identity, amount int64) (_ *Status, err error) {
	defer s.observe("bid", caller, &err)

	defer func() {
		metrics.BidsTotal.WithLabelValues(s.id, auction.Code(err)).Inc()
	}()

	if err := s.auction.Bid(ctx, caller, amount); err != nil {
		return nil, err
	}

	metrics.ValueCollectedTotal.WithLabelValues(s.id).Add(float64(amount))
	level.Debug(s.logger).Log("op", "bid", "caller", caller, "amount", amount, "finished", s.auction.IsFinished())

	return s.Status(ctx)
}

func (s *CoreService) Cancel(ctx context.Context, caller Identity) (_ *Status, err error) {
	defer s.observe("cancel", caller, &err)

	if err := s.auction.Cancel(ctx, caller); err != nil {
		return nil, err
	}

	return s.Status(ctx)
}

func (s *CoreService) Claim(ctx context.Context, caller Identity) (_ *Status, err error) {
	defer s.observe("claim", caller, &err)

	if err := s.auction.Claim(ctx, caller); err != nil {
		return nil, err
	}

	return s.Status(ctx)
}

func (s *CoreService) Withdraw(ctx context.Context, caller Identity) (_ int64, err error) {
	defer s.observe("withdraw", caller, &err)

	amount, err := s.auction.Withdraw(ctx, caller)
	if err != nil {
		return 0, err
	}

	metrics.ValuePaidOutTotal.WithLabelValues(s.id).Add(float64(amount))
	level.Debug(s.logger).Log("op", "withdraw", "caller", caller, "amount", amount)

	return amount, nil
}

// observe counts the operation by result and logs rejections. Collaborator
// failures are logged louder than rule violations.
func (s *CoreService) observe(op string, caller Identity, errp *error) {
	code := auction.Code(*errp)
	metrics.OperationsTotal.WithLabelValues(s.id, op, code).Inc()

	switch code {
	case "ok":
		level.Debug(s.logger).Log("op", op, "caller", caller, "result", code)
	case "custody_transfer_failed", "payment_failed", "error":
		level.Warn(s.logger).Log("op", op, "caller", caller, "result", code, "err", *errp)
	default:
		level.Info(s.logger).Log("op", op, "caller", caller, "result", code, "err", *errp)
	}
}
