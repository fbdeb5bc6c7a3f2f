package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"escrow/address"
	"escrow/api"
	"escrow/auction"
	"escrow/build"
	"escrow/debug"
	"escrow/escrow"
	"escrow/store"
	"escrow/store/memstore"
	"escrow/store/pgstore"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3"
)

const program = "escrowd"

func main() {
	err := exe(context.Background(), os.Stdout, os.Stderr, os.Args[1:])
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case isSignalError(err):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func exe(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	fs := flag.NewFlagSet(program, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		apiAddr              = fs.String("api-addr", ":4415", "public API HTTP server address")
		debugAddr            = fs.String("debug-addr", ":4416", "private debug HTTP server address")
		storeConnStr         = fs.String("store-conn-str", "mem://store", "store connection string")
		storeMetricsInterval = fs.Duration("store-metrics-interval", 10*time.Second, "how often to update store metrics")
		auctionID            = fs.String("auction-id", "lot-1", "ID of the auction in the store")
		seller               = fs.String("seller", "", "seller address (required for a new auction)")
		startPrice           = fs.Int64("start-price", 0, "start price (required for a new auction)")
		buyNowPrice          = fs.Int64("buy-now-price", 0, "buy now price, must exceed start price (required for a new auction)")
		minBidIncrement      = fs.Int64("min-bid-increment", 0, "minimum bid increment (required for a new auction)")
		addressPrefix        = fs.String("address-prefix", "escrow", "bech32 prefix of all addresses, empty to accept any identity")
		escrowAddress        = fs.String("escrow-address", "", "escrow account address (optional, random for a new auction)")
		assets               = flagStringSet(fs, "asset", "asset minted to the seller at startup, format '<registry>/<asset ID>' (repeatable)")
		funds                = flagStringSet(fs, "fund", "balance credited at startup, format '<address>=<amount>' (repeatable)")
		version              = fs.Bool("version", false, "print version information and exit")
		logLevel             = fs.String("log-level", "info", "debug, info, warn, error")
		_                    = fs.String("config", "", "config file")
	)
	if err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("ESCROW"),
	); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if *version {
		fmt.Fprintf(stdout, "%s version %s date %s\n", program, build.Version, build.Date)
		return nil
	}

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(stderr)
		logger = level.NewFilter(logger, level.Allow(level.ParseDefault(*logLevel, level.InfoValue())))
	}

	level.Info(logger).Log("program", program, "build_version", build.Version, "build_date", build.Date)

	var (
		assetSpecs []assetSpec
		fundSpecs  []fundSpec
	)
	{
		for _, s := range assets.Get() {
			a, err := parseAsset(s)
			if err != nil {
				return fmt.Errorf("-asset: %w", err)
			}
			assetSpecs = append(assetSpecs, a)
		}
		for _, s := range funds.Get() {
			f, err := parseFund(s)
			if err != nil {
				return fmt.Errorf("-fund: %w", err)
			}
			if err := address.Validate(*addressPrefix, string(f.owner)); err != nil {
				return fmt.Errorf("-fund: %w", err)
			}
			fundSpecs = append(fundSpecs, f)
		}
	}

	level.Debug(logger).Log("msg", "creating store")

	var st store.Store
	{
		switch {
		case strings.HasPrefix(*storeConnStr, "postgres"):
			level.Info(logger).Log("store", "postgres")
			s, err := pgstore.NewStore(ctx, *storeConnStr, log.With(logger, "module", "store"))
			if err != nil {
				return fmt.Errorf("create Postgres store: %w", err)
			}
			defer func() {
				level.Debug(logger).Log("msg", "closing Postgres store")
				if err := s.Close(); err != nil {
					level.Error(logger).Log("msg", "close Postgres store failed", "err", err)
				}
			}()
			st = s

		default:
			level.Warn(logger).Log("store", "in-memory")
			st = memstore.NewStore()
		}
	}

	stored, err := st.SelectAuction(ctx, *auctionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		level.Info(logger).Log("msg", "no stored auction, creating a new one", "auction_id", *auctionID)
		stored = nil
	case err != nil:
		return fmt.Errorf("select auction %s: %w", *auctionID, err)
	default:
		level.Info(logger).Log("msg", "restoring stored auction", "auction_id", *auctionID, "state", stored.State)
	}

	var escrowAddr, sellerAddr auction.Identity
	{
		switch {
		case stored != nil:
			escrowAddr = auction.Identity(stored.EscrowAddress)
			sellerAddr = auction.Identity(stored.Seller)
		default:
			if *seller == "" {
				return fmt.Errorf("-seller is required for a new auction")
			}
			if *escrowAddress == "" {
				addr, err := address.Random(*addressPrefix)
				if err != nil {
					return fmt.Errorf("generate escrow address: %w", err)
				}
				*escrowAddress = addr
			}
			escrowAddr = auction.Identity(*escrowAddress)
			sellerAddr = auction.Identity(*seller)
		}

		for name, addr := range map[string]auction.Identity{"seller": sellerAddr, "escrow": escrowAddr} {
			if err := address.Validate(*addressPrefix, string(addr)); err != nil {
				return fmt.Errorf("%s address: %w", name, err)
			}
		}
	}

	level.Info(logger).Log("seller", sellerAddr, "escrow_address", escrowAddr)

	w, err := newWorld(sellerAddr, escrowAddr, assetSpecs, fundSpecs, stored)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	var service escrow.Service
	{
		cfg := auction.Config{
			Terms: auction.Terms{
				Seller:          auction.Identity(*seller),
				StartPrice:      *startPrice,
				BuyNowPrice:     *buyNowPrice,
				MinBidIncrement: *minBidIncrement,
			},
			Address:    auction.Identity(*escrowAddress),
			Registries: w.registries,
			Funds:      w.bank.Escrow(escrowAddr),
			Journal:    escrow.NewJournal(*auctionID, st, log.With(logger, "module", "journal")),
		}

		a, err := escrow.Load(ctx, *auctionID, st, cfg)
		if err != nil {
			return fmt.Errorf("load auction: %w", err)
		}

		service = escrow.NewCoreService(*auctionID, a, st, log.With(logger, "module", "service"))
	}

	var g run.Group

	{
		logger := log.With(logger, "module", "api")
		apiHandler := api.NewHandler(service, *addressPrefix, logger)
		server := &http.Server{Handler: apiHandler, Addr: *apiAddr}
		g.Add(func() error {
			level.Info(logger).Log("api_addr", *apiAddr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	{
		logger := log.With(logger, "module", "debug")
		debugHandler := debug.NewHandler(logger)
		server := &http.Server{Handler: debugHandler, Addr: *debugAddr}
		g.Add(func() error {
			level.Info(logger).Log("debug_addr", *debugAddr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	{
		logger := log.With(logger, "module", "store_metrics")
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			level.Info(logger).Log("interval", *storeMetricsInterval)
			ticker := time.NewTicker(*storeMetricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := store.UpdateMetrics(ctx, st); err != nil {
						level.Error(logger).Log("error", err)
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))
	}

	level.Debug(logger).Log("msg", "running")

	return g.Run()
}

func isSignalError(err error) bool {
	var (
		sigErrVal run.SignalError
		sigErrPtr *run.SignalError
	)
	return errors.As(err, &sigErrVal) || errors.As(err, &sigErrPtr)
}
