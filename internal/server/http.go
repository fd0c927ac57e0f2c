// Package server is the HTTP/JSON gateway: read endpoints backed by the
// query service and live engine reads, admin and wallet operations submitted
// through the engine loop, and the ops surface (health, readiness, metrics).
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/order"
	"SpotLedger/internal/projection"
	"SpotLedger/internal/query"
)

// Server hosts the gateway on one listener.
type Server struct {
	log        zerolog.Logger
	httpServer *http.Server
	loop       *engine.Loop
	queries    *query.Service
	db         *sql.DB
	health     *observability.HealthChecker
	metrics    *observability.Metrics
}

type Deps struct {
	Loop    *engine.Loop
	Queries *query.Service
	DB      *sql.DB
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
}

func New(addr string, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		log:     log.With().Str("component", "gateway").Logger(),
		loop:    deps.Loop,
		queries: deps.Queries,
		db:      deps.DB,
		health:  deps.Health,
		metrics: deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Ops surface.
	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Reads.
		r.Get("/balances/{wallet}", s.handleBalances)
		r.Get("/balances/{wallet}/{asset}", s.handleBalance)
		r.Get("/transfers/{wallet}", s.handleTransfers)
		r.Get("/events", s.handleEvents)
		r.Get("/assets", s.handleAssets)
		r.Get("/pools", s.handlePools)
		r.Get("/wallets/{wallet}/exit", s.handleExitStatus)
		r.Get("/integrity", s.handleIntegrity)

		// Wallet operations.
		r.Post("/wallets/{wallet}/exit", s.handleExitWallet)
		r.Post("/wallets/{wallet}/exit/withdraw", s.handleWithdrawExit)
		r.Post("/wallets/{wallet}/exit/liquidity", s.handleRemoveLiquidityExit)
		r.Post("/wallets/{wallet}/exit/clear", s.handleClearExit)
		r.Post("/nonces/invalidate", s.handleInvalidateNonce)
		r.Post("/liquidity/intents", s.handleLiquidityIntent)
		r.Post("/deposits", s.handleDeposit)

		// Admin operations.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/tokens/register", s.handleRegisterToken)
			r.Post("/tokens/confirm", s.handleConfirmToken)
			r.Post("/tokens/symbols", s.handleAddTokenSymbol)
			r.Post("/pools/promote", s.handlePromotePool)
			r.Post("/governance", s.handleGovernance)
			r.Post("/projections/rebuild", s.handleRebuildProjections)
		})
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("gateway listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// --- read handlers ---

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	out, err := s.queries.Balances(r.Context(), wallet.Hex())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	assetParam := chi.URLParam(r, "asset")
	if common.IsHexAddress(assetParam) {
		out, err := s.queries.Balance(r.Context(), wallet.Hex(), common.HexToAddress(assetParam).Hex())
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		s.respond(w, r, out)
		return
	}

	// Symbol lookup resolves through the live registry, reading the balance
	// in the same loop turn so symbol and balance cannot diverge.
	var out *query.BalanceResponse
	var lookupErr error
	err := s.loop.Read(r.Context(), func(e *engine.Engine) {
		a, err := e.AssetBySymbol(assetParam, uint64(time.Now().UnixMilli()))
		if err != nil {
			lookupErr = err
			return
		}
		pips := e.BalanceInPipsByAddress(wallet, a.Address)
		out = &query.BalanceResponse{
			Wallet:       wallet.Hex(),
			Asset:        a.Address.Hex(),
			Symbol:       a.Symbol,
			Quantity:     query.FormatPips(int64(pips)),
			QuantityPips: int64(pips),
			AsOfSequence: int64(e.Sequence()),
		}
	})
	if err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	if lookupErr != nil {
		s.fail(w, r, http.StatusNotFound, lookupErr)
		return
	}
	s.respond(w, r, out)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.fail(w, r, http.StatusBadRequest, errors.New("limit must be 1-1000"))
			return
		}
		limit = n
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, errors.New("before must be a sequence number"))
			return
		}
		before = &n
	}

	out, err := s.queries.Transfers(r.Context(), wallet.Hex(), limit, before)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, errors.New("after must be a sequence number"))
			return
		}
		after = n
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.fail(w, r, http.StatusBadRequest, errors.New("limit must be 1-1000"))
			return
		}
		limit = n
	}

	out, err := s.queries.Events(r.Context(), after, limit)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, out)
}

type assetView struct {
	Address   string `json:"address"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Confirmed bool   `json:"confirmed"`
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	var out []assetView
	err := s.loop.Read(r.Context(), func(e *engine.Engine) {
		for _, a := range e.ConfirmedAssets() {
			out = append(out, assetView{
				Address:   a.Address.Hex(),
				Symbol:    a.Symbol,
				Decimals:  a.Decimals,
				Confirmed: a.IsConfirmed,
			})
		}
	})
	if err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	s.respond(w, r, out)
}

type poolView struct {
	BaseAsset      string `json:"baseAsset"`
	QuoteAsset     string `json:"quoteAsset"`
	PairAddress    string `json:"pairAddress"`
	BaseReserve    string `json:"baseReserve"`
	QuoteReserve   string `json:"quoteReserve"`
	TotalLiquidity string `json:"totalLiquidity"`
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	var out []poolView
	err := s.loop.Read(r.Context(), func(e *engine.Engine) {
		for _, p := range e.Pools() {
			out = append(out, poolView{
				BaseAsset:      p.BaseAssetAddress.Hex(),
				QuoteAsset:     p.QuoteAssetAddress.Hex(),
				PairAddress:    p.PairAddress.Hex(),
				BaseReserve:    query.FormatPips(int64(p.BaseReserveInPips)),
				QuoteReserve:   query.FormatPips(int64(p.QuoteReserveInPips)),
				TotalLiquidity: query.FormatPips(int64(p.TotalLiquidityInPips)),
			})
		}
	})
	if err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	s.respond(w, r, out)
}

func (s *Server) handleExitStatus(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	var resp struct {
		Exited            bool   `json:"exited"`
		Finalized         bool   `json:"finalized"`
		EffectiveSequence uint64 `json:"effectiveSequence"`
	}
	err := s.loop.Read(r.Context(), func(e *engine.Engine) {
		resp.Exited, resp.Finalized, resp.EffectiveSequence = e.WalletExitStatus(wallet)
	})
	if err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	s.respond(w, r, resp)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, out)
}

// --- wallet operation handlers ---

func (s *Server) handleRemoveLiquidityExit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	var body struct {
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.BaseAsset) || !common.IsHexAddress(body.QuoteAsset) {
		s.fail(w, r, http.StatusBadRequest, errors.New("baseAsset and quoteAsset must be addresses"))
		return
	}
	baseAsset := common.HexToAddress(body.BaseAsset)
	quoteAsset := common.HexToAddress(body.QuoteAsset)
	s.submit(w, r, "RemoveLiquidityExit", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.RemoveLiquidityExit(tx, baseAsset, quoteAsset)
	})
}

func (s *Server) handleExitWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	s.submit(w, r, "ExitWallet", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.ExitWallet(tx)
	})
}

func (s *Server) handleWithdrawExit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	var body struct {
		Asset string `json:"asset"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Asset) {
		s.fail(w, r, http.StatusBadRequest, errors.New("asset must be an address"))
		return
	}
	assetAddr := common.HexToAddress(body.Asset)
	s.submit(w, r, "WithdrawExit", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.WithdrawExit(tx, assetAddr)
	})
}

func (s *Server) handleClearExit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	s.submit(w, r, "ClearWalletExit", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.ClearWalletExit(tx)
	})
}

func (s *Server) handleInvalidateNonce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallet string `json:"wallet"`
		Nonce  string `json:"nonce"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Wallet) {
		s.fail(w, r, http.StatusBadRequest, errors.New("wallet must be an address"))
		return
	}
	nonce, err := uuid.Parse(body.Nonce)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("nonce must be a UUID"))
		return
	}
	wallet := common.HexToAddress(body.Wallet)
	s.submit(w, r, "InvalidateOrderNonce", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.InvalidateOrderNonce(tx, nonce)
	})
}

type liquidityIntentBody struct {
	Direction      string `json:"direction"` // "add" or "remove"
	Wallet         string `json:"wallet"`
	Nonce          string `json:"nonce"`
	AssetA         string `json:"assetA"`
	AssetB         string `json:"assetB"`
	AmountADesired uint64 `json:"amountADesiredPips"`
	AmountBDesired uint64 `json:"amountBDesiredPips"`
	AmountAMin     uint64 `json:"amountAMinPips"`
	AmountBMin     uint64 `json:"amountBMinPips"`
	To             string `json:"to"`
	DeadlineMs     uint64 `json:"deadlineMs"`
}

func (s *Server) handleLiquidityIntent(w http.ResponseWriter, r *http.Request) {
	var body liquidityIntentBody
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Wallet) || !common.IsHexAddress(body.AssetA) ||
		!common.IsHexAddress(body.AssetB) || !common.IsHexAddress(body.To) {
		s.fail(w, r, http.StatusBadRequest, errors.New("wallet, assetA, assetB and to must be addresses"))
		return
	}
	nonce, err := uuid.Parse(body.Nonce)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("nonce must be a UUID"))
		return
	}

	wallet := common.HexToAddress(body.Wallet)
	change := order.LiquidityChange{
		Origination:          order.OriginationOnChain,
		Nonce:                nonce,
		Wallet:               wallet,
		AssetA:               common.HexToAddress(body.AssetA),
		AssetB:               common.HexToAddress(body.AssetB),
		AmountADesiredInPips: body.AmountADesired,
		AmountBDesiredInPips: body.AmountBDesired,
		AmountAMinInPips:     body.AmountAMin,
		AmountBMinInPips:     body.AmountBMin,
		To:                   common.HexToAddress(body.To),
		DeadlineMs:           body.DeadlineMs,
	}

	switch body.Direction {
	case "add":
		change.ChangeType = order.LiquidityAddition
		s.submit(w, r, "AddLiquidity", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.AddLiquidity(tx, change)
		})
	case "remove":
		change.ChangeType = order.LiquidityRemoval
		s.submit(w, r, "RemoveLiquidity", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.RemoveLiquidity(tx, change)
		})
	default:
		s.fail(w, r, http.StatusBadRequest, errors.New(`direction must be "add" or "remove"`))
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallet             string `json:"wallet"`
		AssetAddress       string `json:"assetAddress,omitempty"`
		AssetSymbol        string `json:"assetSymbol,omitempty"`
		Native             bool   `json:"native,omitempty"`
		QuantityAssetUnits string `json:"quantityAssetUnits"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Wallet) {
		s.fail(w, r, http.StatusBadRequest, errors.New("wallet must be an address"))
		return
	}
	quantity, ok := new(big.Int).SetString(body.QuantityAssetUnits, 10)
	if !ok {
		s.fail(w, r, http.StatusBadRequest, errors.New("quantityAssetUnits must be a decimal integer"))
		return
	}
	wallet := common.HexToAddress(body.Wallet)

	switch {
	case body.Native:
		s.submit(w, r, "DepositNative", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.DepositNative(tx, quantity)
		})
	case body.AssetAddress != "":
		if !common.IsHexAddress(body.AssetAddress) {
			s.fail(w, r, http.StatusBadRequest, errors.New("assetAddress must be an address"))
			return
		}
		addr := common.HexToAddress(body.AssetAddress)
		s.submit(w, r, "DepositTokenByAddress", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.DepositTokenByAddress(tx, addr, quantity)
		})
	case body.AssetSymbol != "":
		symbol := body.AssetSymbol
		s.submit(w, r, "DepositTokenBySymbol", wallet, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.DepositTokenBySymbol(tx, symbol, quantity)
		})
	default:
		s.fail(w, r, http.StatusBadRequest, errors.New("deposit names no asset"))
	}
}

// --- admin handlers ---

type tokenBody struct {
	Caller   string `json:"caller"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	body, caller, addr, ok := s.decodeTokenBody(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "RegisterToken", caller, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.RegisterToken(tx, addr, body.Symbol, body.Decimals)
	})
}

func (s *Server) handleConfirmToken(w http.ResponseWriter, r *http.Request) {
	body, caller, addr, ok := s.decodeTokenBody(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "ConfirmTokenRegistration", caller, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.ConfirmTokenRegistration(tx, addr, body.Symbol, body.Decimals)
	})
}

func (s *Server) handleAddTokenSymbol(w http.ResponseWriter, r *http.Request) {
	body, caller, addr, ok := s.decodeTokenBody(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "AddTokenSymbol", caller, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.AddTokenSymbol(tx, addr, body.Symbol)
	})
}

func (s *Server) decodeTokenBody(w http.ResponseWriter, r *http.Request) (tokenBody, common.Address, common.Address, bool) {
	var body tokenBody
	if !s.decode(w, r, &body) {
		return body, common.Address{}, common.Address{}, false
	}
	if !common.IsHexAddress(body.Caller) || !common.IsHexAddress(body.Address) {
		s.fail(w, r, http.StatusBadRequest, errors.New("caller and address must be addresses"))
		return body, common.Address{}, common.Address{}, false
	}
	return body, common.HexToAddress(body.Caller), common.HexToAddress(body.Address), true
}

func (s *Server) handlePromotePool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller      string `json:"caller"`
		BaseAsset   string `json:"baseAsset"`
		QuoteAsset  string `json:"quoteAsset"`
		PairAddress string `json:"pairAddress"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Caller) || !common.IsHexAddress(body.BaseAsset) ||
		!common.IsHexAddress(body.QuoteAsset) || !common.IsHexAddress(body.PairAddress) {
		s.fail(w, r, http.StatusBadRequest, errors.New("all fields must be addresses"))
		return
	}
	caller := common.HexToAddress(body.Caller)
	base := common.HexToAddress(body.BaseAsset)
	quote := common.HexToAddress(body.QuoteAsset)
	pair := common.HexToAddress(body.PairAddress)
	s.submit(w, r, "PromotePool", caller, func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.PromotePool(tx, base, quote, pair)
	})
}

// handleGovernance multiplexes the single-field governance mutations.
func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string `json:"caller"`
		Field  string `json:"field"`
		Wallet string `json:"wallet,omitempty"`
		Value  uint64 `json:"value,omitempty"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Caller) {
		s.fail(w, r, http.StatusBadRequest, errors.New("caller must be an address"))
		return
	}
	caller := common.HexToAddress(body.Caller)

	var wallet common.Address
	if body.Wallet != "" {
		if !common.IsHexAddress(body.Wallet) {
			s.fail(w, r, http.StatusBadRequest, errors.New("wallet must be an address"))
			return
		}
		wallet = common.HexToAddress(body.Wallet)
	}

	var fn func(*engine.Engine, engine.TxContext) (engine.Output, error)
	switch body.Field {
	case "admin":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.SetAdmin(tx, wallet)
		}
	case "removeAdmin":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.RemoveAdmin(tx, wallet)
		}
	case "dispatcher":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.SetDispatcher(tx, wallet)
		}
	case "removeDispatcher":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.RemoveDispatcher(tx)
		}
	case "feeWallet":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.SetFeeWallet(tx, wallet)
		}
	case "chainPropagationPeriod":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.SetChainPropagationPeriod(tx, body.Value)
		}
	case "depositIndex":
		fn = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.SetDepositIndex(tx, body.Value)
		}
	default:
		s.fail(w, r, http.StatusBadRequest, errors.New("unknown governance field"))
		return
	}

	s.submit(w, r, "Governance."+body.Field, caller, fn)
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.Rebuild(r.Context(), s.db); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, map[string]string{"status": "rebuilt"})
}

// --- helpers ---

// submitResponse acknowledges an applied operation with its log position.
type submitResponse struct {
	Sequence  uint64 `json:"sequence"`
	EventType string `json:"eventType"`
	Hash      string `json:"hash"`
}

func (s *Server) submit(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	caller common.Address,
	fn func(*engine.Engine, engine.TxContext) (engine.Output, error),
) {
	tx := engine.TxContext{Caller: caller, TimestampMs: uint64(time.Now().UnixMilli())}
	out, err := s.loop.Submit(r.Context(), operation, func(e *engine.Engine) (engine.Output, error) {
		return fn(e, tx)
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, engine.ErrLoopStopped) {
			status = http.StatusServiceUnavailable
		}
		s.fail(w, r, status, err)
		return
	}

	s.respond(w, r, submitResponse{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.EventType.String(),
		Hash:      hexutil.Encode(out.Envelope.Hash[:]),
	})
}

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, param string) (common.Address, bool) {
	v := chi.URLParam(r, param)
	if !common.IsHexAddress(v) {
		s.fail(w, r, http.StatusBadRequest, errors.New(param+" must be an address"))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("malformed JSON body"))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v interface{}) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(r.URL.Path, "ok").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(r.URL.Path, "error").Inc()
		s.metrics.QueryErrors.WithLabelValues(r.URL.Path, strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
