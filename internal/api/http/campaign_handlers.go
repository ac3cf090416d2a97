package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
)

type campaignCreateRequest struct {
	Creator  string          `json:"creator"`
	Flavor   campaign.Flavor `json:"flavor,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Pool     int64           `json:"pool"`
	Deadline time.Time       `json:"deadline"`
}

type entrySubmitRequest struct {
	Submitter string          `json:"submitter"`
	Evidence  json.RawMessage `json:"evidence,omitempty"`
}

type resolveRequest struct {
	Account string   `json:"account"`
	Winners []string `json:"winners"`
}

type cancelRequest struct {
	Account string `json:"account"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Flavor == "" {
		req.Flavor = campaign.FlavorQuest
	}

	c, err := s.lifecycleSvc.CreateCampaign(r.Context(), req.Creator, req.Flavor, req.Metadata, req.Pool, req.Deadline)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.sseHub.Broadcast(&sse.Update{Event: "campaign.created", CampaignRef: c.LocalRef, Data: c})
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)

	var filter campaign.Filter
	if v := r.URL.Query().Get("state"); v != "" {
		state := campaign.State(v)
		filter.State = &state
	}
	if v := r.URL.Query().Get("creator"); v != "" {
		filter.Creator = &v
	}
	if v := r.URL.Query().Get("flavor"); v != "" {
		flavor := campaign.Flavor(v)
		filter.Flavor = &flavor
	}

	list, err := s.lifecycleSvc.ListCampaigns(r.Context(), filter, limit, offset)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaigns": list})
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUUIDParam(r, "campaignRef")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid campaignRef")
		return
	}
	c, err := s.lifecycleSvc.GetCampaign(r.Context(), ref)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUUIDParam(r, "campaignRef")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid campaignRef")
		return
	}
	entries, err := s.lifecycleSvc.ListEntries(r.Context(), ref)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) submitEntry(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUUIDParam(r, "campaignRef")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid campaignRef")
		return
	}
	var req entrySubmitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	pt, err := s.lifecycleSvc.SubmitEntry(r.Context(), req.Submitter, ref, req.Evidence)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.sseHub.Broadcast(&sse.Update{Event: "entry.submitted", CampaignRef: ref})
	respondJSON(w, http.StatusAccepted, pt)
}

func (s *Server) resolveCampaign(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUUIDParam(r, "campaignRef")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid campaignRef")
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	pt, err := s.lifecycleSvc.Resolve(r.Context(), req.Account, ref, req.Winners)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.sseHub.Broadcast(&sse.Update{Event: "campaign.resolving", CampaignRef: ref})
	respondJSON(w, http.StatusAccepted, pt)
}

func (s *Server) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUUIDParam(r, "campaignRef")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid campaignRef")
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	if err := s.lifecycleSvc.Cancel(r.Context(), req.Account, ref); err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.sseHub.Broadcast(&sse.Update{Event: "campaign.cancelled", CampaignRef: ref})
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// streamUpdates serves the campaign update stream over SSE. An optional
// campaignRef query parameter narrows the stream to one campaign.
func (s *Server) streamUpdates(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported")
		return
	}

	var campaignRef *uuid.UUID
	if v := r.URL.Query().Get("campaignRef"); v != "" {
		ref, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid campaignRef")
			return
		}
		campaignRef = &ref
	}

	clientID := middleware.GetReqID(r.Context())
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := sse.NewClient(clientID, campaignRef, 16)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-client.Ch:
			if !open {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Event, data)
			flusher.Flush()
		}
	}
}
