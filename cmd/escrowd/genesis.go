package main

import (
	"fmt"
	"strconv"
	"strings"

	"escrow/auction"
	"escrow/registry"
	"escrow/store"
	"escrow/value"
)

// world is the in-process asset registry and value layer the auction runs
// against. Both are rebuilt from flags on every start.
type world struct {
	registries registry.Directory
	bank       *value.Bank
}

type assetSpec struct {
	ref string
	id  string
}

func parseAsset(s string) (assetSpec, error) {
	ref, id, ok := strings.Cut(s, "/")
	if !ok || ref == "" || id == "" {
		return assetSpec{}, fmt.Errorf("%q: want <registry>/<asset ID>", s)
	}
	return assetSpec{ref: ref, id: id}, nil
}

type fundSpec struct {
	owner  auction.Identity
	amount int64
}

func parseFund(s string) (fundSpec, error) {
	owner, amountStr, ok := strings.Cut(s, "=")
	if !ok || owner == "" {
		return fundSpec{}, fmt.Errorf("%q: want <address>=<amount>", s)
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amount <= 0 {
		return fundSpec{}, fmt.Errorf("%q: amount must be a positive integer", s)
	}
	return fundSpec{owner: auction.Identity(owner), amount: amount}, nil
}

// newWorld mints every asset to the seller with the escrow approved as
// operator, and credits every fund. If stored is non-nil, the lot it
// references is minted to whoever holds it at that point of the auction, and
// the escrow account is credited with the value it still holds.
func newWorld(seller, escrowAddr auction.Identity, assets []assetSpec, funds []fundSpec, stored *store.Auction) (*world, error) {
	w := &world{
		registries: registry.Directory{},
		bank:       value.NewBank(),
	}

	memoryFor := func(ref string) *registry.Memory {
		if r, ok := w.registries[ref]; ok {
			return r.(*registry.Memory)
		}
		r := registry.NewMemory(escrowAddr)
		w.registries[ref] = r
		return r
	}

	if stored != nil && stored.AssetRef != "" {
		assets = append(assets, assetSpec{ref: stored.AssetRef, id: stored.AssetID})
	}

	seen := map[assetSpec]bool{}
	for _, a := range assets {
		if seen[a] {
			continue
		}
		seen[a] = true

		owner := seller
		if stored != nil && stored.AssetRef == a.ref && stored.AssetID == a.id {
			owner = custodian(stored)
		}

		r := memoryFor(a.ref)
		if err := r.Mint(owner, a.id); err != nil {
			return nil, fmt.Errorf("mint %s/%s: %w", a.ref, a.id, err)
		}
		if owner == seller {
			if err := r.Approve(seller, escrowAddr, a.id); err != nil {
				return nil, fmt.Errorf("approve %s/%s: %w", a.ref, a.id, err)
			}
		}
	}

	for _, f := range funds {
		if err := w.bank.Deposit(f.owner, f.amount); err != nil {
			return nil, fmt.Errorf("fund %s: %w", f.owner, err)
		}
	}

	if stored != nil {
		if held := stored.Received - stored.PaidOut; held > 0 {
			if err := w.bank.Deposit(auction.Identity(stored.EscrowAddress), held); err != nil {
				return nil, fmt.Errorf("fund escrow: %w", err)
			}
		}
	}

	return w, nil
}

// custodian is the holder of a stored auction's lot.
func custodian(a *store.Auction) auction.Identity {
	switch {
	case a.State == string(auction.StateStarted) && a.Claimed && a.HighestBidder != "":
		return auction.Identity(a.HighestBidder)
	case a.State == string(auction.StateStarted) && a.Claimed:
		return auction.Identity(a.Seller)
	case a.State == string(auction.StateStarted):
		return auction.Identity(a.EscrowAddress)
	default:
		return auction.Identity(a.Seller)
	}
}
