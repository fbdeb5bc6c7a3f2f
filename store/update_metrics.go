package store

import (
	"context"
	"fmt"

	"escrow/metrics"
)

func UpdateMetrics(ctx context.Context, s Store) (err error) {
	auctions, err := s.ListAuctions(ctx)
	if err != nil {
		return fmt.Errorf("list auctions: %w", err)
	}

	metrics.AuctionInfo.Reset()

	for _, a := range auctions {
		metrics.AuctionInfo.WithLabelValues(a.ID, a.Seller, a.EscrowAddress, a.State).Set(1)
		metrics.AuctionHighestBid.WithLabelValues(a.ID).Set(float64(a.HighestBid))
		metrics.AuctionUpdatedAt.WithLabelValues(a.ID).Set(float64(a.UpdatedAt.Unix()))

		var end float64
		if !a.EndAt.IsZero() {
			end = float64(a.EndAt.Unix())
		}
		metrics.AuctionEndTimestamp.WithLabelValues(a.ID).Set(end)

		balances, err := s.ListBalances(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("list balances for %s: %w", a.ID, err)
		}

		var total int64
		for _, b := range balances {
			total += b.Amount
		}
		metrics.AuctionWithdrawable.WithLabelValues(a.ID).Set(float64(total))
	}

	return nil
}
