package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var AuctionInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "auction_info",
	Help:      "Metadata for all stored auctions.",
}, []string{"auction_id", "seller", "escrow_addr", "state"})

var AuctionHighestBid = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "auction_highest_bid",
	Help:      "Leading bid amount for all stored auctions.",
}, []string{"auction_id"})

var AuctionEndTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "auction_end_timestamp",
	Help:      "UNIX timestamp when bidding closes, zero if not started.",
}, []string{"auction_id"})

var AuctionWithdrawable = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "auction_withdrawable",
	Help:      "Sum of withdrawable balances for all stored auctions.",
}, []string{"auction_id"})

var AuctionUpdatedAt = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "auction_updated_at",
	Help:      "UNIX timestamp reflecting updated_at for all stored auctions.",
}, []string{"auction_id"})
