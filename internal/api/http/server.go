package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/application/lifecycle"
	"github.com/escrow-hub/escrow-hub/internal/application/recon"
	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
	"github.com/escrow-hub/escrow-hub/internal/ledger"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	lifecycleSvc *lifecycle.Service
	processor    *recon.Processor
	sseHub       *sse.Hub
	logger       zerolog.Logger
}

func NewServer(lifecycleSvc *lifecycle.Service, processor *recon.Processor, sseHub *sse.Hub, logger zerolog.Logger) *Server {
	return &Server{
		lifecycleSvc: lifecycleSvc,
		processor:    processor,
		sseHub:       sseHub,
		logger:       logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.createCampaign)
			r.Get("/", s.listCampaigns)
			r.Get("/{campaignRef}", s.getCampaign)
			r.Post("/{campaignRef}/cancel", s.cancelCampaign)
			r.Post("/{campaignRef}/resolve", s.resolveCampaign)
			r.Get("/{campaignRef}/entries", s.listEntries)
			r.Post("/{campaignRef}/entries", s.submitEntry)
		})

		r.Post("/webhooks/payments/{sourceId}", s.paymentWebhook)
		r.Get("/recon/dead-letters", s.listDeadLetters)
		r.Get("/stream", s.streamUpdates)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps the service error taxonomy onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	var verr *campaign.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", verr.Error())
	case errors.Is(err, lifecycle.ErrCampaignNotFound), errors.Is(err, ledger.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, campaign.ErrNotCreator):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition), errors.Is(err, lifecycle.ErrConflictInFlight):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, ledger.ErrRejected), errors.Is(err, ledger.ErrReverted):
		respondError(w, http.StatusUnprocessableEntity, "LEDGER_REFUSED", err.Error())
	case errors.Is(err, ledger.ErrWrongNetwork):
		respondError(w, http.StatusServiceUnavailable, "WRONG_NETWORK", err.Error())
	default:
		s.logger.Error().Err(err).Msg("unhandled request error")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
