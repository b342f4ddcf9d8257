// Package routes serves the HTTP query API over a running protocol instance.
package routes

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"securepay/gateway/middleware"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/native/oracle"
	"securepay/native/rewards"
	"securepay/native/timelock"
	"securepay/native/treasury"
	"securepay/services/keeper"
)

// Rate limit groups.
const (
	LimitQuery  = "query"
	LimitOracle = "oracle"
)

// ScopeOraclePublish is required to push price rounds.
const ScopeOraclePublish = "oracle:publish"

// Query is the read surface of the runtime the API exposes, plus price
// ingestion for authenticated oracles.
type Query interface {
	Now() int64
	GetTransfer(id uint64) (escrow.Transfer, error)
	OutboxIDs(account common.Address) ([]uint64, error)
	InboxIDs(account common.Address) ([]uint64, error)
	EscrowParams() (escrow.Params, error)
	QuoteFee(token common.Address, amount *big.Int) (escrow.FeeQuote, error)
	TokenInfo(token common.Address) (bank.TokenInfo, error)
	Price(token common.Address) (oracle.Quote, error)
	GetCheckIn(account common.Address) (rewards.CheckIn, bool, error)
	GetTaskProgress(account common.Address, id uint64) (rewards.Progress, error)
	Tasks() ([]rewards.Task, error)
	CheckUpside(tokens []common.Address, includeNative bool) (treasury.Upside, error)
	TreasuryConfig() (treasury.Config, error)
	TimelockActions() []string
	Change(id uint64) (timelock.Change, error)
	PublishPrice(caller common.Address, feed string, price *big.Int, decimals uint8, updatedAt int64) error
}

// Journal exposes settled history recorded by the keeper.
type Journal interface {
	Transfer(ctx context.Context, id uint64) (keeper.TransferRecord, error)
	RecentBuybacks(ctx context.Context, limit int) ([]keeper.BuybackRecord, error)
}

// Config wires the router's collaborators. Nil optional fields disable the
// corresponding feature.
type Config struct {
	Query          Query
	Journal        Journal
	UpsideTokens   []common.Address
	RateLimiter    *middleware.RateLimiter
	Authenticator  *middleware.Authenticator
	Observability  *middleware.Observability
	MetricsHandler http.Handler
	AllowedOrigins []string
	Tracing        bool
	Logger         *slog.Logger
}

type handlers struct {
	query        Query
	journal      Journal
	upsideTokens []common.Address
	logger       *slog.Logger
}

// New builds the API handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Query == nil {
		return nil, errors.New("routes: query backend required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		query:        cfg.Query,
		journal:      cfg.Journal,
		upsideTokens: append([]common.Address(nil), cfg.UpsideTokens...),
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			if cfg.RateLimiter != nil {
				q.Use(cfg.RateLimiter.Middleware(LimitQuery))
			}
			q.Get("/transfers/{id}", h.getTransfer)
			q.Get("/escrow/params", h.getEscrowParams)
			q.Get("/escrow/quote", h.getFeeQuote)
			q.Get("/accounts/{addr}/outbox", h.getOutbox)
			q.Get("/accounts/{addr}/inbox", h.getInbox)
			q.Get("/accounts/{addr}/checkin", h.getCheckIn)
			q.Get("/accounts/{addr}/tasks/{id}", h.getTaskProgress)
			q.Get("/tasks", h.getTasks)
			q.Get("/treasury", h.getTreasuryConfig)
			q.Get("/treasury/upside", h.getUpside)
			q.Get("/timelock/actions", h.getTimelockActions)
			q.Get("/timelock/changes/{id}", h.getChange)
			if h.journal != nil {
				q.Get("/treasury/buybacks", h.getBuybacks)
			}
		})
		if cfg.Authenticator != nil {
			v1.Group(func(o chi.Router) {
				if cfg.RateLimiter != nil {
					o.Use(cfg.RateLimiter.Middleware(LimitOracle))
				}
				o.Use(cfg.Authenticator.Middleware(ScopeOraclePublish))
				o.Post("/oracle/rounds", h.postRound)
			})
		}
	})

	if cfg.Tracing {
		return otelhttp.NewHandler(r, "securepay-api"), nil
	}
	return r, nil
}
