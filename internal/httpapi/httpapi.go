package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/secure"

	"tillcore/backend/internal/creditcard"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/logger"
	"tillcore/backend/internal/metrics"
	"tillcore/backend/internal/service"
	"tillcore/backend/internal/tracing"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AllowedOrigin      string
	RateLimitPerMinute int
	LoginAttempts      int
	Production         bool
	Logger             *slog.Logger
}

type API struct {
	service *service.Service
	auth    *AuthManager
	opts    Options
	logger  *slog.Logger
	router  chi.Router
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.RateLimitPerMinute < 1 {
		opts.RateLimitPerMinute = 120
	}
	if opts.LoginAttempts < 1 {
		opts.LoginAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &API{
		service: svc,
		auth:    auth,
		opts:    opts,
		logger:  opts.Logger,
	}
	a.router = a.routes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           a.opts.Production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	r.Use(
		middleware.RealIP,
		a.requestContext,
		middleware.Recoverer,
		tracing.Middleware,
		metrics.Middleware,
		secureMiddleware.Handler,
		a.cors,
	)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(a.opts.LoginAttempts, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests("too many login attempts")),
		)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Use(httprate.Limit(a.opts.RateLimitPerMinute, time.Minute,
				httprate.WithKeyFuncs(actorKey),
				httprate.WithLimitHandler(tooManyRequests("rate limit exceeded")),
			))

			r.With(requireRole(domain.RoleAdministrator)).Get("/users", a.handleListUsers)
			r.With(requireRole(domain.RoleAdministrator)).Post("/users", a.handleCreateUser)
			r.Get("/audit-logs", a.handleAuditLogs)

			r.Get("/product-types", a.handleListProductTypes)
			r.Post("/product-types", a.handleCreateProductType)
			r.Get("/product-types/{code}", a.handleGetProductType)
			r.Patch("/product-types/{id}/quantity", a.handleUpdateQuantity)
			r.Patch("/product-types/{id}/position", a.handleUpdatePosition)
			r.Get("/products/{rfid}", a.handleGetProduct)

			r.Post("/sales", a.handleStartSale)
			r.Route("/sales/{ticket}", func(r chi.Router) {
				r.Get("/", a.handleGetSale)
				r.Delete("/", a.handleDeleteSale)
				r.Post("/items", a.handleAddSaleItem)
				r.Delete("/items", a.handleRemoveSaleItem)
				r.Post("/items/{code}/discount", a.handleDiscountSaleItem)
				r.Post("/tags", a.handleAddSaleTag)
				r.Delete("/tags/{rfid}", a.handleRemoveSaleTag)
				r.Post("/discount", a.handleDiscountSale)
				r.Get("/points", a.handleSalePoints)
				r.Post("/commit", a.handleCommitSale)
				r.Post("/payments/cash", a.handleCashPayment)
				r.Post("/payments/card", a.handleCardPayment)
			})

			r.Post("/returns", a.handleStartReturn)
			r.Route("/returns/{id}", func(r chi.Router) {
				r.Delete("/", a.handleDeleteReturn)
				r.Post("/items", a.handleReturnItem)
				r.Post("/tags", a.handleReturnTag)
				r.Post("/end", a.handleEndReturn)
				r.Post("/refunds/cash", a.handleCashRefund)
				r.Post("/refunds/card", a.handleCardRefund)
			})

			r.Get("/orders", a.handleListOrders)
			r.Post("/orders", a.handleIssueOrder)
			r.Post("/orders/pay-for", a.handlePayOrderFor)
			r.Post("/orders/{id}/pay", a.handlePayOrder)
			r.Post("/orders/{id}/arrival", a.handleOrderArrival)
			r.Post("/orders/{id}/arrival-rfid", a.handleOrderArrivalRFID)

			r.Get("/balance", a.handleBalance)
			r.Get("/balance/transactions", a.handleBalanceTransactions)
			r.Post("/balance/updates", a.handleBalanceUpdate)
		})
	})

	return r
}

// requestContext assigns the correlation id, attaches the request logger and
// logs the completed request.
func (a *API) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := strings.TrimSpace(r.Header.Get("X-Correlation-ID"))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx := logger.WithCorrelationID(r.Context(), correlationID)
		ctx = logger.NewContext(ctx, a.logger)
		w.Header().Set("X-Correlation-ID", correlationID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		a.logger.InfoContext(ctx, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("correlation_id", correlationID),
		)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-ID")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer token into the request actor.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = logger.WithActor(ctx, actor.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := service.ActorFromContext(r.Context())
			if !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		return "user:" + actor.Username, nil
	}
	return httprate.KeyByIP(r)
}

func tooManyRequests(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, errors.New(msg))
	}
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, creditcard.ErrGatewayUnavailable):
		status = http.StatusServiceUnavailable
	case service.IsInvalid(err):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientFunds), errors.Is(err, service.ErrCardDeclined):
		status = http.StatusUnprocessableEntity
	case service.IsInfeasible(err):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeAndValidate decodes the body into dest and checks its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := validate(dest); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  verr.Error(),
				"fields": verr.Fields(),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// pathID reads a positive integer URL parameter; anything else yields 0,
// which the service rejects as an invalid id.
func pathID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx messages never reach the client.
	msg := err.Error()
	if status >= 500 {
		slog.Error("internal error", slog.Int("status", status), slog.String("error", msg))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
