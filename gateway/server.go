package gateway

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	gwmiddleware "swave/gateway/middleware"
	"swave/native/collateral"
	nativecommon "swave/native/common"
	"swave/native/credit"
	"swave/native/loan"
)

// CallerHeaderName is the header carrying the acting account for
// authenticated routes.
const CallerHeaderName = gwmiddleware.CallerHeader

// LoanService is the slice of the loan engine the gateway exposes.
type LoanService interface {
	RequestLoan(borrower common.Address, amount *big.Int) (*loan.Loan, error)
	ProvideCollateral(borrower common.Address, asset string, amount *big.Int) error
	RepayLoan(borrower common.Address, amount *big.Int) error
	Liquidate(caller, borrower common.Address) error
	GetLoanStatus(borrower common.Address) (*loan.Loan, error)
	IsDue(borrower common.Address) (bool, error)
	Stats() (*loan.GlobalStats, error)
}

// CollateralService is the slice of the custodian the gateway exposes.
type CollateralService interface {
	Lock(owner common.Address, asset string, amount *big.Int) error
	Unlock(owner common.Address) error
	Liquidate(liquidator, owner common.Address) error
	GetPosition(owner common.Address) (*collateral.Position, error)
	IsLiquidationRequired(owner common.Address) (bool, error)
	UpdateAssetPrice(caller common.Address, code string, priceUSD *big.Int) error
	Stats() (*collateral.GlobalStats, error)
}

// LiquidationLog lists recorded seizures, backed by storage.
type LiquidationLog interface {
	LiquidationsFor(owner common.Address) ([]*collateral.LiquidationEvent, error)
}

// Server exposes the lending and custody operations over HTTP.
type Server struct {
	loans        LoanService
	positions    CollateralService
	liquidations LiquidationLog
	pauses       *nativecommon.PauseSet
	auth         nativecommon.Authorizer
	scores       *credit.StaticScorer
	obs          *gwmiddleware.Observability
	limiter      *gwmiddleware.RateLimiter
	log          *slog.Logger
}

// Options bundles the collaborators wired into the server.
type Options struct {
	Loans        LoanService
	Positions    CollateralService
	Liquidations LiquidationLog
	Pauses       *nativecommon.PauseSet
	Auth         nativecommon.Authorizer
	Scores       *credit.StaticScorer
	Logger       *slog.Logger
	LogRequests  bool
	RateLimits   map[string]gwmiddleware.RateLimit
}

// NewServer constructs the gateway. A nil logger falls back to the process
// default.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := gwmiddleware.NewObservability(gwmiddleware.ObservabilityConfig{
		ServiceName: "swave-gateway",
		LogRequests: opts.LogRequests,
	}, logger)
	return &Server{
		loans:        opts.Loans,
		positions:    opts.Positions,
		liquidations: opts.Liquidations,
		pauses:       opts.Pauses,
		auth:         opts.Auth,
		scores:       opts.Scores,
		obs:          obs,
		limiter:      gwmiddleware.NewRateLimiter(opts.RateLimits),
		log:          logger,
	}
}

// MetricsRegistry exposes the gateway's metrics registry so additional
// collectors, such as the engine event counter, share the /metrics endpoint.
func (s *Server) MetricsRegistry() *prometheus.Registry {
	return s.obs.Registry()
}

// Router assembles the chi mux with all routes and middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware)
	r.Use(gwmiddleware.CORS(gwmiddleware.CORSConfig{}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/loans", func(r chi.Router) {
			r.Use(s.limiter.Middleware("loans"))
			r.Post("/", s.handleRequestLoan)
			r.Post("/{borrower}/collateral", s.handleProvideCollateral)
			r.Post("/{borrower}/repay", s.handleRepayLoan)
			r.With(gwmiddleware.RequireCaller).Post("/{borrower}/liquidate", s.handleLiquidateLoan)
			r.Get("/{borrower}", s.handleLoanStatus)
			r.Get("/{borrower}/due", s.handleLoanDue)
		})
		r.Route("/collateral", func(r chi.Router) {
			r.Use(s.limiter.Middleware("collateral"))
			r.Post("/", s.handleLockCollateral)
			r.Delete("/{owner}", s.handleUnlockCollateral)
			r.With(gwmiddleware.RequireCaller).Post("/{owner}/liquidate", s.handleLiquidateCollateral)
			r.Get("/{owner}", s.handlePosition)
			r.Get("/{owner}/liquidatable", s.handleLiquidatable)
			r.Get("/{owner}/liquidations", s.handleLiquidations)
		})
		r.Get("/stats", s.handleStats)
		r.Route("/admin", func(r chi.Router) {
			r.Use(gwmiddleware.RequireAdmin(s.auth, "admin"))
			r.Post("/pause", s.handlePause)
			r.Post("/assets/{code}/price", s.handleAssetPrice)
			r.Post("/scores/{borrower}", s.handleSetScore)
		})
	})
	return r
}
