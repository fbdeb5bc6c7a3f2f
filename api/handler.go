package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"escrow/address"
	"escrow/auction"
	"escrow/debug"
	"escrow/escrow"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// CallerHeaderKey carries the identity on whose behalf a request is made.
const CallerHeaderKey = "Escrow-Caller"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNoCaller       = fmt.Errorf("%w: no %s header", ErrInvalidRequest, CallerHeaderKey)
	ErrNoAssetRef     = errors.New("no asset ref")
	ErrNoAssetID      = errors.New("no asset ID")
	ErrBadAmount      = errors.New("amount must be positive")
)

type Handler struct {
	router  *mux.Router
	logger  log.Logger
	service escrow.Service
	prefix  string
}

// NewHandler serves the auction behind service. Caller identities must be
// bech32 addresses with addressPrefix; an empty prefix accepts any non-empty
// identity.
func NewHandler(service escrow.Service, addressPrefix string, logger log.Logger) *Handler {
	s := &Handler{
		router:  mux.NewRouter(),
		logger:  logger,
		service: service,
		prefix:  addressPrefix,
	}

	s.router.Methods("GET").Path("/-/ping").HandlerFunc(s.handleGetPing)
	s.router.Methods("GET").Path("/-/panic").HandlerFunc(s.handleGetPanic)

	s.router.Methods("GET").Path("/v0/auction").HandlerFunc(s.handleGetAuction)
	s.router.Methods("GET").Path("/v0/balance").HandlerFunc(s.handleGetBalance)
	s.router.Methods("GET").Path("/v0/winner").HandlerFunc(s.handleGetWinner)
	s.router.Methods("GET").Path("/v0/mybid").HandlerFunc(s.handleGetMyBid)
	s.router.Methods("GET").Path("/v0/events").HandlerFunc(s.handleGetEvents)

	s.router.Methods("POST").Path("/v0/start").HandlerFunc(s.handlePostStart)
	s.router.Methods("POST").Path("/v0/bid").HandlerFunc(s.handlePostBid)
	s.router.Methods("POST").Path("/v0/cancel").HandlerFunc(s.handlePostCancel)
	s.router.Methods("POST").Path("/v0/claim").HandlerFunc(s.handlePostClaim)
	s.router.Methods("POST").Path("/v0/withdraw").HandlerFunc(s.handlePostWithdraw)

	s.router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	s.router.Use(
		corsHeadersMiddleware,
		debug.LoggingMiddleware(log.With(logger, "module", "http")),
		debug.MetricsMiddleware,
		panicRecoveryMiddleware(s.logger), // should be after observability middlewares
		// the handler executes here
	)

	return s
}

func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

//
//
//

func (s *Handler) handleGetPing(w http.ResponseWriter, r *http.Request) {
	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error { return s.service.Ping(ctx) })
	eg.Go(func() error { _, err := s.service.Status(ctx); return err })

	if err := eg.Wait(); err != nil {
		respondError(w, r, fmt.Errorf("ping: %w", err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, struct{}{})
}

func (s *Handler) handleGetPanic(w http.ResponseWriter, r *http.Request) {
	level.Debug(s.logger).Log("msg", "panicking as requested")
	panic("requested panic")
}

//
// queries
//

type auctionResponse struct {
	ID              string     `json:"id"`
	Seller          string     `json:"seller"`
	Escrow          string     `json:"escrow"`
	StartPrice      int64      `json:"start_price"`
	BuyNowPrice     int64      `json:"buy_now_price"`
	MinBidIncrement int64      `json:"min_bid_increment"`
	State           string     `json:"state"`
	Started         bool       `json:"started"`
	Finished        bool       `json:"finished"`
	AssetRef        string     `json:"asset_ref,omitempty"`
	AssetID         string     `json:"asset_id,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	HighestBid      int64      `json:"highest_bid"`
	HighestBidder   string     `json:"highest_bidder,omitempty"`
	Received        int64      `json:"received"`
	Escrowed        int64      `json:"escrowed"`
	Withdrawable    int64      `json:"withdrawable"`
	PaidOut         int64      `json:"paid_out"`
}

func newAuctionResponse(st *escrow.Status) auctionResponse {
	resp := auctionResponse{
		ID:              st.ID,
		Seller:          string(st.Seller),
		Escrow:          string(st.Escrow),
		StartPrice:      st.StartPrice,
		BuyNowPrice:     st.BuyNowPrice,
		MinBidIncrement: st.MinBidIncrement,
		State:           string(st.State),
		Started:         st.Started,
		Finished:        st.Finished,
		AssetRef:        st.AssetRef,
		AssetID:         st.AssetID,
		HighestBid:      st.HighestBid,
		HighestBidder:   string(st.HighestBidder),
		Received:        st.Statement.Received,
		Escrowed:        st.Statement.Escrowed,
		Withdrawable:    st.Statement.Withdrawable,
		PaidOut:         st.Statement.PaidOut,
	}
	if !st.EndAt.IsZero() {
		endAt := st.EndAt.UTC()
		resp.EndAt = &endAt
	}
	return resp
}

func (s *Handler) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context())
	if err != nil {
		respondError(w, r, fmt.Errorf("auction status: %w", err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, newAuctionResponse(st))
}

type amountResponse struct {
	Identity string `json:"identity"`
	Amount   int64  `json:"amount"`
}

func (s *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, s.logger)
		return
	}

	amount, err := s.service.Balance(r.Context(), caller)
	if err != nil {
		respondError(w, r, fmt.Errorf("balance of %s: %w", caller, err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, amountResponse{Identity: string(caller), Amount: amount})
}

func (s *Handler) handleGetMyBid(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, s.logger)
		return
	}

	amount, err := s.service.MyBid(r.Context(), caller)
	if err != nil {
		respondError(w, r, fmt.Errorf("bid of %s: %w", caller, err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, amountResponse{Identity: string(caller), Amount: amount})
}

type winnerResponse struct {
	Winner string `json:"winner"`
}

func (s *Handler) handleGetWinner(w http.ResponseWriter, r *http.Request) {
	winner, err := s.service.Winner(r.Context())
	if err != nil {
		respondError(w, r, fmt.Errorf("winner: %w", err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, winnerResponse{Winner: string(winner)})
}

type eventResponse struct {
	Kind   string    `json:"kind"`
	Actor  string    `json:"actor,omitempty"`
	Amount int64     `json:"amount,omitempty"`
	At     time.Time `json:"at"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

func (s *Handler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.Events(r.Context())
	if err != nil {
		respondError(w, r, fmt.Errorf("events: %w", err), http.StatusInternalServerError, s.logger)
		return
	}

	resp := eventsResponse{Events: make([]eventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, eventResponse{
			Kind:   e.Kind,
			Actor:  e.Actor,
			Amount: e.Amount,
			At:     e.At.UTC(),
		})
	}

	respondOK(w, r, resp)
}

//
// mutations
//

type startRequest struct {
	AssetRef string `json:"asset_ref"`
	AssetID  string `json:"asset_id"`
}

func (req *startRequest) fromValues(values url.Values) {
	if v := values.Get("asset_ref"); v != "" {
		req.AssetRef = v
	}
	if v := values.Get("asset_id"); v != "" {
		req.AssetID = v
	}
}

func (req *startRequest) validate() error {
	var merr multiError
	merr.addIf(req.AssetRef == "", ErrNoAssetRef)
	merr.addIf(req.AssetID == "", ErrNoAssetID)
	return merr.yield()
}

func (s *Handler) handlePostStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := s.caller(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, s.logger)
		return
	}

	var req startRequest
	if err := parseRequest(r, &req, req.fromValues, s.logger); err != nil {
		respondError(w, r, fmt.Errorf("decode start request: %w", err), http.StatusBadRequest, s.logger)
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", ErrInvalidRequest, err), http.StatusBadRequest, s.logger)
		return
	}

	st, err := s.service.Start(ctx, caller, req.AssetRef, req.AssetID)
	if err != nil {
		respondError(w, r, fmt.Errorf("start: %w", err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, newAuctionResponse(st))
}

type bidRequest struct {
	Amount int64 `json:"amount"`
}

func (req *bidRequest) fromValues(values url.Values) {
	if amount, err := strconv.ParseInt(values.Get("amount"), 10, 64); err == nil {
		req.Amount = amount
	}
}

func (req *bidRequest) validate() error {
	var merr multiError
	merr.addIf(req.Amount <= 0, ErrBadAmount)
	return merr.yield()
}

func (s *Handler) handlePostBid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := s.caller(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, s.logger)
		return
	}

	var req bidRequest
	if err := parseRequest(r, &req, req.fromValues, s.logger); err != nil {
		respondError(w, r, fmt.Errorf("decode bid request: %w", err), http.StatusBadRequest, s.logger)
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", ErrInvalidRequest, err), http.StatusBadRequest, s.logger)
		return
	}

	st, err := s.service.Bid(ctx, caller, req.Amount)
	if err != nil {
		respondError(w, r, fmt.Errorf("bid %d: %w", req.Amount, err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, newAuctionResponse(st))
}

func (s *Handler) handlePostCancel(w http.ResponseWriter, r *http.Request) {
	s.handleStatusOp(w, r, "cancel", s.service.Cancel)
}

func (s *Handler) handlePostClaim(w http.ResponseWriter, r *http.Request) {
	s.handleStatusOp(w, r, "claim", s.service.Claim)
}

func (s *Handler) handleStatusOp(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, escrow.Identity) (*escrow.Status, error)) {
	caller, err := s.caller(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, s.logger)
		return
	}

	st, err := fn(r.Context(), caller)
	if err != nil {
		respondError(w, r, fmt.Errorf("%s: %w", op, err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, newAuctionResponse(st))
}

func (s *Handler) handlePostWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest, s.logger)
		return
	}

	amount, err := s.service.Withdraw(r.Context(), caller)
	if err != nil {
		respondError(w, r, fmt.Errorf("withdraw: %w", err), http.StatusInternalServerError, s.logger)
		return
	}

	respondOK(w, r, amountResponse{Identity: string(caller), Amount: amount})
}

//
//
//

// caller reads the identity from the caller header, falling back to the
// caller query parameter for read-only requests.
func (s *Handler) caller(r *http.Request) (escrow.Identity, error) {
	caller := r.Header.Get(CallerHeaderKey)
	if caller == "" && r.Method == http.MethodGet {
		caller = r.URL.Query().Get("caller")
	}
	if caller == "" {
		return auction.NoOne, ErrNoCaller
	}

	if err := address.Validate(s.prefix, caller); err != nil {
		return auction.NoOne, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, CallerHeaderKey, err)
	}

	return escrow.Identity(caller), nil
}

// parseRequest fills req from a JSON or form body, or from the URL query if
// the content type is unknown. Missing bodies are not an error; validation
// is up to the caller.
func parseRequest(r *http.Request, req any, fromValues func(url.Values), logger log.Logger) error {
	readBodyJSON := func() error {
		err := json.NewDecoder(io.LimitReader(r.Body, 10*1024)).Decode(req)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	readFormData := func() error {
		body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024))
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Errorf("parse form data: %w", err)
		}
		fromValues(values)
		return nil
	}

	var (
		requestTypes = r.Header.Values("content-type")
		acceptTypes  = []string{"application/json", "application/x-www-form-urlencoded"}
		bestType     = getBestMediaType(requestTypes, acceptTypes...)
	)

	switch bestType {
	case "application/json":
		if err := readBodyJSON(); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}

	case "application/x-www-form-urlencoded":
		if err := readFormData(); err != nil {
			return fmt.Errorf("decode form: %w", err)
		}

	default:
		level.Debug(logger).Log("msg", "request has no usable content-type, reading query", "content_type", strings.Join(requestTypes, ","))
		fromValues(r.URL.Query())
	}

	return nil
}

// getBestMediaType returns the first of prioritizedValues present in
// inputValues, or the first parseable input value if none is.
func getBestMediaType(inputValues []string, prioritizedValues ...string) string {
	index := map[string]struct{}{}
	slice := []string{}
	for _, v := range inputValues {
		mediaType, _, err := mime.ParseMediaType(v)
		if err != nil {
			continue
		}
		index[mediaType] = struct{}{}
		slice = append(slice, mediaType)
	}

	if len(slice) <= 0 {
		return ""
	}

	for _, v := range prioritizedValues {
		mediaType, _, err := mime.ParseMediaType(v)
		if err != nil {
			continue
		}
		if _, ok := index[mediaType]; ok {
			return mediaType
		}
	}

	return slice[0]
}

//
//
//

type multiError struct {
	merr *multierror.Error
}

func (m *multiError) addIf(b bool, err error) {
	if !b {
		return
	}

	if m.merr == nil {
		m.merr = &multierror.Error{ErrorFormat: joinErrorStrings}
	}

	m.merr = multierror.Append(m.merr, err)
}

func (m *multiError) yield() error {
	if m.merr == nil {
		return nil
	}

	return m.merr.ErrorOrNil()
}

func joinErrorStrings(errs []error) string {
	strs := make([]string, len(errs))
	for i := range errs {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "; ")
}
