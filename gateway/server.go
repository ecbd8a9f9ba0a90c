package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bestoffer/native/settlement"
	"bestoffer/observability/metrics"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Records is the read side of the gateway: point lookups over stored
// settlement records. The state manager satisfies it.
type Records interface {
	ConfigGet() (*settlement.Config, bool, error)
	TreasuryGet() (*settlement.Treasury, bool, error)
	IntentGet(addr [32]byte) (*settlement.Intent, bool, error)
	OfferGet(addr [32]byte) (*settlement.Offer, bool, error)
	TrackingGet(intent [32]byte) (*settlement.TrackingDetails, bool, error)
	Balance(addr [20]byte, symbol string) (uint64, error)
}

// Server is the HTTP front-end for the settlement engine.
type Server struct {
	engine  *settlement.Engine
	records Records
	logger  *slog.Logger
	metrics *metrics.SettlementMetrics
}

// NewServer wires the gateway around the engine. The server installs its own
// event emitter on the engine so settlement events reach the structured log
// and the payout metrics.
func NewServer(engine *settlement.Engine, records Records, logger *slog.Logger) *Server {
	if engine == nil {
		panic("engine required")
	}
	if records == nil {
		panic("record store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	registry := metrics.Settlement()
	engine.SetEmitter(&settlementEmitter{logger: logger, observer: registry})
	return &Server{
		engine:  engine,
		records: records,
		logger:  logger,
		metrics: registry,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/config", s.handleInitConfig)
		v1.Get("/config", s.handleGetConfig)
		v1.Post("/treasury", s.handleInitTreasury)
		v1.Get("/treasury", s.handleGetTreasury)

		v1.Post("/intents", s.handleCreateIntent)
		v1.Get("/intents/{addr}", s.handleGetIntent)
		v1.Post("/intents/{addr}/cancel", s.handleCancelIntent)
		v1.Post("/intents/{addr}/tracking", s.handleCreateTracking)
		v1.Get("/intents/{addr}/tracking", s.handleGetTracking)
		v1.Post("/intents/{addr}/accept-delivery", s.handleAcceptDelivery)
		v1.Get("/intents/{addr}/vault", s.handleGetVault)

		v1.Post("/offers", s.handleCreateOffer)
		v1.Get("/offers/{addr}", s.handleGetOffer)
		v1.Post("/offers/{addr}/accept", s.handleAcceptOffer)
		v1.Post("/offers/{addr}/cancel", s.handleCancelOffer)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(withRequestID(r.Context(), requestID)))
		elapsed := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveRequestDuration(route, elapsed.Seconds())
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"route", route,
			"status", recorder.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the identifier assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusForError maps engine failures onto HTTP status codes. Errors outside
// the settlement sentinels are treated as request validation failures.
func statusForError(err error) int {
	switch {
	case errors.Is(err, settlement.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrAlreadyExists), errors.Is(err, settlement.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, settlement.ErrNumericalOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
