package api

import (
	"net/http"

	"github.com/emoki/snipr/internal/service"
)

// TrackRequest is the body of POST /api/tracked
type TrackRequest struct {
	Site     string  `json:"site"`
	URL      string  `json:"url"`
	Title    *string `json:"title,omitempty"`
	FetchNow bool    `json:"fetchNow,omitempty"`
}

func (s *Server) handleListTracked(w http.ResponseWriter, r *http.Request) {
	items := s.tracking.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}
	if req.Site == "" || req.URL == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "site and url are required", nil)
		return
	}

	result, err := s.tracking.Track(r.Context(), req.Site, req.URL, req.Title, req.FetchNow)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Status == service.TrackStatusScheduled {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	site, url, ok := itemParams(w, r)
	if !ok {
		return
	}

	removed, err := s.tracking.Untrack(r.Context(), site, url)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Item is not tracked", map[string]interface{}{
			"site": site,
			"url":  url,
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
