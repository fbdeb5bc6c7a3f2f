package pgstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"escrow/metrics"
	"escrow/store"
	"escrow/store/pgstore/migrations"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/tern/migrate"
	"github.com/prometheus/client_golang/prometheus"
)

type Store struct {
	db     connOrTx
	logger log.Logger
}

var _ store.Store = (*Store)(nil)

type connOrTx interface {
	Query(ctx context.Context, q string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, q string, args ...any) pgx.Row
	Exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error)
}

func NewStore(ctx context.Context, connStr string, logger log.Logger) (_ *Store, err error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if config.MaxConnIdleTime == 0 {
		config.MaxConnIdleTime = 5 * time.Minute
	}

	if config.MaxConns == 0 {
		config.MaxConns = 4
	}

	if config.MinConns == 0 {
		config.MinConns = 1
	}

	if config.ConnConfig.ConnectTimeout == 0 {
		config.ConnConfig.ConnectTimeout = 5 * time.Second
	}

	config.ConnConfig.Logger = &pgDebugLogAdapter{
		Logger: log.With(logger, "submodule", "postgres"),
	}

	config.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		level.Debug(logger).Log("event", "new db connection")

		for _, q := range []string{
			`set timezone='UTC'`,
			`set lock_timeout='5s'`,
			`set statement_timeout='5s'`,
		} {
			if _, err := c.Exec(ctx, q); err != nil {
				return fmt.Errorf("db connection setup query %q: %w", q, err)
			}
		}

		return nil
	}

	level.Debug(logger).Log("msg", "connecting")

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	defer func() {
		if err != nil {
			pool.Close()
		}
	}()

	{
		var (
			user = config.ConnConfig.User
			host = config.ConnConfig.Host
			name = config.ConnConfig.Database
			fn   = func() stat { return pool.Stat() }
			pc   = newPoolCollector(user, host, name, fn)
		)
		if err := prometheus.Register(pc); err != nil {
			return nil, fmt.Errorf("metrics registration failed: %w", err)
		}
	}

	if err = pool.AcquireFunc(ctx, func(c *pgxpool.Conn) error {
		return migrateDB(ctx, c.Conn(), logger)
	}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Store{db: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	switch x := s.db.(type) {
	case *pgx.Conn:
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return x.Close(ctx)
	case *pgxpool.Pool:
		x.Close()
		return nil
	case pgx.Tx:
		return nil
	default:
		return fmt.Errorf("close with unknown DB type %T", s.db)
	}
}

func migrateDB(ctx context.Context, conn *pgx.Conn, logger log.Logger) error {
	m, err := migrate.NewMigratorEx(ctx, conn, "public.schema_version", &migrate.MigratorOptions{
		MigratorFS: migrations.FS,
	})
	if err != nil {
		return fmt.Errorf("new migrator: %w", err)
	}

	if err = m.LoadMigrations("."); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m.OnStart = func(sequence int32, name, direction, sql string) {
		level.Info(logger).Log("msg", "applying migration", "sequence", sequence, "name", name, "direction", direction)
	}

	if err = m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	level.Debug(logger).Log("msg", "migrations done", "count", len(m.Migrations))

	return nil
}

func (s *Store) Transact(ctx context.Context, f func(store.Store) error) error {
	retryable := func(err error) bool {
		if pgerr := &(pgconn.PgError{}); errors.As(err, &pgerr) {
			if pgerr.Code == "40001" { // concurrent updates
				return true
			}
		}
		return false
	}

	var err error
	for try, max := 1, 3; try <= max; try++ {
		err = s.transactDirect(ctx, f)
		switch {
		case err == nil:
			return nil
		case retryable(err):
			level.Debug(s.logger).Log("msg", "transaction retryable", "err", err, "attempt", try, "max", max)
		default:
			return err
		}
	}

	return err
}

func (s *Store) transactDirect(ctx context.Context, f func(store.Store) error) error {
	var entered time.Time
	defer func(begin time.Time) {
		if !entered.IsZero() {
			metrics.OpWait("pgstore_transactdirect", entered.Sub(begin))
		}
	}(time.Now())

	inner := func(tx pgx.Tx) error {
		entered = time.Now()
		return f(&Store{
			db:     tx,
			logger: s.logger,
		})
	}

	switch x := s.db.(type) {
	case *pgx.Conn:
		return x.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, inner)
	case *pgxpool.Pool:
		return x.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, inner)
	case pgx.Tx:
		return x.BeginFunc(ctx, inner)
	default:
		return fmt.Errorf("unknown DB type %T", s.db)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	var n int
	return s.db.QueryRow(ctx, `select 1`).Scan(&n)
}

//
// auctions
//

const upsertAuctionQuery = `
insert into auctions
(
	id,
	seller,
	escrow_address,
	start_price,
	buy_now_price,
	min_bid_increment,
	state,
	asset_ref,
	asset_id,
	end_at,
	highest_bid,
	highest_bidder,
	settled,
	claimed,
	received,
	paid_out
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
on conflict (id) do update
set
	state          = excluded.state,
	asset_ref      = excluded.asset_ref,
	asset_id       = excluded.asset_id,
	end_at         = excluded.end_at,
	highest_bid    = excluded.highest_bid,
	highest_bidder = excluded.highest_bidder,
	settled        = excluded.settled,
	claimed        = excluded.claimed,
	received       = excluded.received,
	paid_out       = excluded.paid_out,
	updated_at     = now()
returning
	created_at,
	updated_at
`

// UpsertAuction creates the auction or updates its mutable state. Terms are
// fixed at creation.
func (s *Store) UpsertAuction(ctx context.Context, a *store.Auction) error {
	return s.db.QueryRow(ctx, upsertAuctionQuery,
		a.ID,
		a.Seller,
		a.EscrowAddress,
		a.StartPrice,
		a.BuyNowPrice,
		a.MinBidIncrement,
		a.State,
		nullString(a.AssetRef),
		nullString(a.AssetID),
		nullTime(a.EndAt),
		a.HighestBid,
		nullString(a.HighestBidder),
		a.Settled,
		a.Claimed,
		a.Received,
		a.PaidOut,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

const auctionColumns = `
	id,
	seller,
	escrow_address,
	start_price,
	buy_now_price,
	min_bid_increment,
	state,
	asset_ref,
	asset_id,
	end_at,
	highest_bid,
	highest_bidder,
	settled,
	claimed,
	received,
	paid_out,
	created_at,
	updated_at
`

const selectAuctionQuery = `select ` + auctionColumns + ` from auctions where id = $1`

func (s *Store) SelectAuction(ctx context.Context, id string) (*store.Auction, error) {
	a, err := scanAuction(s.db.QueryRow(ctx, selectAuctionQuery, id))
	if err != nil {
		return nil, convertError(err)
	}
	return a, nil
}

const listAuctionsQuery = `select ` + auctionColumns + ` from auctions order by id asc`

func (s *Store) ListAuctions(ctx context.Context) ([]*store.Auction, error) {
	rows, err := s.db.Query(ctx, listAuctionsQuery)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	auctions := []*store.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		auctions = append(auctions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan err: %w", err)
	}

	return auctions, nil
}

func scanAuction(row pgx.Row) (*store.Auction, error) {
	var (
		a store.Auction

		// Nullable types below
		assetRef      pgtype.Text
		assetID       pgtype.Text
		highestBidder pgtype.Text
	)

	if err := row.Scan(
		&a.ID,
		&a.Seller,
		&a.EscrowAddress,
		&a.StartPrice,
		&a.BuyNowPrice,
		&a.MinBidIncrement,
		&a.State,
		&assetRef,
		&assetID,
		&nullable[time.Time]{&a.EndAt},
		&a.HighestBid,
		&highestBidder,
		&a.Settled,
		&a.Claimed,
		&a.Received,
		&a.PaidOut,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.AssetRef = assetRef.String
	a.AssetID = assetID.String
	a.HighestBidder = highestBidder.String

	return &a, nil
}

//
// balances
//

const (
	deleteBalancesQuery = `delete from balances where auction_id = $1`

	insertBalancesQuery = `
insert into balances
(
	auction_id,
	identity,
	amount
)
select
	$1,
	entries.identity,
	entries.amount
from
	jsonb_to_recordset($2)
	as entries(identity text, amount bigint)
where
	entries.amount <> 0
`
)

func (s *Store) ReplaceBalances(ctx context.Context, auctionID string, balances []*store.Balance) error {
	type entry struct {
		Identity string `json:"identity"`
		Amount   int64  `json:"amount"`
	}

	entries := make([]entry, len(balances))
	for i, b := range balances {
		entries[i] = entry{b.Identity, b.Amount}
	}

	if _, err := s.db.Exec(ctx, deleteBalancesQuery, auctionID); err != nil {
		return fmt.Errorf("delete balances: %w", err)
	}

	if _, err := s.db.Exec(ctx, insertBalancesQuery, auctionID, entries); err != nil {
		return fmt.Errorf("insert balances: %w", convertError(err))
	}

	return nil
}

const listBalancesQuery = `
select
	auction_id,
	identity,
	amount
from
	balances
where
	auction_id = $1
order by
	identity asc
`

func (s *Store) ListBalances(ctx context.Context, auctionID string) ([]*store.Balance, error) {
	rows, err := s.db.Query(ctx, listBalancesQuery, auctionID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	balances := []*store.Balance{}
	for rows.Next() {
		var b store.Balance
		if err = rows.Scan(
			&b.AuctionID,
			&b.Identity,
			&b.Amount,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		balances = append(balances, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan err: %w", err)
	}

	return balances, nil
}

//
// events
//

const insertEventQuery = `
insert into events
(
	id,
	auction_id,
	kind,
	actor,
	amount,
	at
)
values ($1, $2, $3, $4, $5, $6)
returning
	created_at
`

func (s *Store) InsertEvent(ctx context.Context, e *store.Event) error {
	if e.ID.IsNil() {
		var err error
		if e.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
	}

	if err := s.db.QueryRow(ctx, insertEventQuery,
		e.ID,
		e.AuctionID,
		e.Kind,
		nullString(e.Actor),
		e.Amount,
		e.At,
	).Scan(&e.CreatedAt); err != nil {
		return convertError(err)
	}

	return nil
}

const listEventsQuery = `
select
	id,
	auction_id,
	kind,
	actor,
	amount,
	at,
	created_at
from
	events
where
	auction_id = $1
order by
	seq asc
`

func (s *Store) ListEvents(ctx context.Context, auctionID string) ([]*store.Event, error) {
	rows, err := s.db.Query(ctx, listEventsQuery, auctionID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	events := []*store.Event{}
	for rows.Next() {
		var (
			e     store.Event
			actor pgtype.Text
		)
		if err = rows.Scan(
			&e.ID,
			&e.AuctionID,
			&e.Kind,
			&actor,
			&e.Amount,
			&e.At,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		e.Actor = actor.String
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan err: %w", err)
	}

	return events, nil
}

//
//
//

type nullable[T any] struct{ V *T }

// Scan implements the Scanner interface.
func (v *nullable[T]) Scan(value any) error {
	*v.V, _ = value.(T)
	return nil
}

// Value implements the driver Valuer interface.
func (v *nullable[T]) Value() (driver.Value, error) {
	if v.V == nil {
		return nil, nil
	}
	return *v.V, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func convertError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if pgerr := &(pgconn.PgError{}); errors.As(err, &pgerr) && pgerr.Code == "23503" { // foreign key violation
		return fmt.Errorf("%s: %w", pgerr.ConstraintName, store.ErrNotFound)
	}
	return err
}

//
//
//

type pgDebugLogAdapter struct{ log.Logger }

func (a *pgDebugLogAdapter) Log(ctx context.Context, pgxlevel pgx.LogLevel, msg string, data map[string]interface{}) {
	keyvals := []interface{}{
		"pgxlevel", pgxlevel.String(),
		"msg", msg,
	}
	for k, v := range data {
		keyvals = append(keyvals, k, fmt.Sprintf("%v", v))
	}
	level.Debug(a.Logger).Log(keyvals...)
}
