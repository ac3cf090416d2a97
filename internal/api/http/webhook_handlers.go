package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/escrow-hub/escrow-hub/internal/application/recon"
	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/domain/eventlog"
)

const signatureHeader = "X-Signature"

// paymentWebhook takes payment status notices from an external provider. The
// raw body is verified before any parsing; a replayed notice returns 200 and
// changes nothing.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unreadable body")
		return
	}

	err = s.processor.OnPaymentWebhook(r.Context(), sourceID, raw, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, recon.ErrMissingSignature):
		respondError(w, http.StatusBadRequest, "MISSING_SIGNATURE", "signature header is required")
	case errors.Is(err, recon.ErrAuthenticationFailed):
		respondError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
	default:
		var verr *campaign.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", verr.Error())
			return
		}
		s.logger.Error().Err(err).Str("sourceId", sourceID).Msg("webhook processing failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

// listDeadLetters exposes parked reconciliation work so operators can see
// what needs out-of-band replay.
func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := parseLimitOffset(r, 100, 500)
	letters, err := s.processor.DeadLetters(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing dead letters failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if letters == nil {
		letters = []*eventlog.DeadLetter{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deadLetters": letters})
}
