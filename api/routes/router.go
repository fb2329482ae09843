package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pointsledger/loyalty-backend/api/controllers"
	"github.com/pointsledger/loyalty-backend/api/middleware"
	eventsvc "github.com/pointsledger/loyalty-backend/internal/events"
	promosvc "github.com/pointsledger/loyalty-backend/internal/promotions"
	txsvc "github.com/pointsledger/loyalty-backend/internal/transactions"
	usersvc "github.com/pointsledger/loyalty-backend/internal/users"
	"github.com/pointsledger/loyalty-backend/pkg/config"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	"github.com/pointsledger/loyalty-backend/pkg/logger"
	"github.com/pointsledger/loyalty-backend/pkg/metrics"
	"github.com/pointsledger/loyalty-backend/pkg/redis"
)

// Deps carries everything the router wires together.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Redis        *redis.Client
	HTTPMetrics  *metrics.HTTPMetrics
	Gatherer     prometheus.Gatherer
	Pingers      map[string]controllers.Pinger
	Users        usersvc.Service
	Transactions txsvc.Service
	Promotions   promosvc.Service
	Events       eventsvc.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	authed := middleware.Auth(cfg.JWT, logg)

	// A nil *redis.Client must stay a nil interface so the middleware
	// can fall through when redis is not configured.
	var idemStore redis.IdempotencyStore
	var limiter middleware.RateLimiterStore
	if deps.Redis != nil {
		idemStore = deps.Redis
		limiter = deps.Redis
	}
	idempotent := middleware.Idempotency(idemStore, cfg.Idempotency, logg)
	redemptionLimit := middleware.RateLimit(limiter, middleware.RedemptionRatePolicy, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authed)

		r.Route("/users", func(r chi.Router) {
			r.Get("/lookup", controllers.UserLookup(deps.Users, logg))

			r.Route("/me", func(r chi.Router) {
				r.Get("/", controllers.Me(deps.Users, logg))
				r.Get("/transactions", controllers.OwnTransactionList(deps.Transactions, logg))
				r.With(redemptionLimit, idempotent).Post("/transactions", controllers.RedemptionCreate(deps.Transactions, logg))
			})

			r.Route("/{userId}", func(r chi.Router) {
				r.Get("/", controllers.UserGet(deps.Users, logg))
				r.With(idempotent).Post("/transactions", controllers.TransferCreate(deps.Transactions, logg))
				r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
					Patch("/verified", controllers.UserSetVerified(deps.Users, logg))
				r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
					Patch("/suspicious", controllers.UserSetSuspicious(deps.Users, logg))
			})
		})

		r.Route("/transactions", func(r chi.Router) {
			r.With(middleware.RequireRole(enums.UserRoleCashier, logg), idempotent).
				Post("/", controllers.TransactionCreate(deps.Transactions, logg))
			r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
				Get("/", controllers.TransactionList(deps.Transactions, logg))

			r.Route("/{transactionId}", func(r chi.Router) {
				r.Get("/", controllers.TransactionGet(deps.Transactions, logg))
				r.With(middleware.RequireRole(enums.UserRoleCashier, logg)).
					Patch("/processed", controllers.RedemptionProcess(deps.Transactions, logg))
				r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
					Patch("/suspicious", controllers.TransactionSetSuspicious(deps.Transactions, logg))
			})
		})

		r.Route("/promotions", func(r chi.Router) {
			r.Get("/", controllers.PromotionList(deps.Promotions, logg))
			r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
				Post("/", controllers.PromotionCreate(deps.Promotions, logg))

			r.Route("/{promotionId}", func(r chi.Router) {
				r.Get("/", controllers.PromotionGet(deps.Promotions, logg))
				r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
					Patch("/", controllers.PromotionUpdate(deps.Promotions, logg))
				r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
					Delete("/", controllers.PromotionDelete(deps.Promotions, logg))
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", controllers.EventList(deps.Events, logg))
			r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
				Post("/", controllers.EventCreate(deps.Events, logg))

			r.Route("/{eventId}", func(r chi.Router) {
				r.Get("/", controllers.EventGet(deps.Events, logg))
				r.Patch("/", controllers.EventUpdate(deps.Events, logg))
				r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
					Delete("/", controllers.EventDelete(deps.Events, logg))

				r.Route("/guests", func(r chi.Router) {
					r.Post("/", controllers.EventGuestAdd(deps.Events, logg))
					r.Post("/me", controllers.EventRSVP(deps.Events, logg))
					r.Delete("/{userId}", controllers.EventGuestRemove(deps.Events, logg))
				})

				r.Route("/organizers", func(r chi.Router) {
					r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
						Post("/", controllers.EventOrganizerAdd(deps.Events, logg))
					r.With(middleware.RequireRole(enums.UserRoleManager, logg)).
						Delete("/{userId}", controllers.EventOrganizerRemove(deps.Events, logg))
				})

				r.With(idempotent).Post("/transactions", controllers.EventAwardCreate(deps.Events, logg))
			})
		})
	})

	return r
}
