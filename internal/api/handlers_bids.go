package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/types"
)

// Query bounds for /api/recent
const (
	DefaultLimitPerItem = 1
	MaxLimitPerItem     = 5
	DefaultMaxItems     = 50
	MaxMaxItems         = 500
)

// itemParams reads the required site and url query parameters
func itemParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	site := strings.TrimSpace(q.Get("site"))
	url := strings.TrimSpace(q.Get("url"))
	if site == "" || url == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "site and url query parameters are required", nil)
		return "", "", false
	}
	return site, url, true
}

// intParam parses an optional integer query parameter within [min, max]
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidParameterError(name, "must be an integer")
	}
	if n < min || n > max {
		return 0, errors.NewInvalidParameterError(name, "must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
	}
	return n, nil
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	site, url, ok := itemParams(w, r)
	if !ok {
		return
	}

	bid, err := s.bids.Latest(r.Context(), types.NormalizeSite(site), url)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if bid == nil {
		// explicit null rather than an empty body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("null\n"))
		return
	}
	respondJSON(w, http.StatusOK, bid)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	site, url, ok := itemParams(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r, "limit", storage.DefaultHistoryLimit, 1, storage.MaxHistoryLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	bids, err := s.bids.History(r.Context(), types.NormalizeSite(site), url, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": bids,
		"count": len(bids),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	perItem, err := intParam(r, "limit_per_item", DefaultLimitPerItem, 1, MaxLimitPerItem)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	maxItems, err := intParam(r, "max_items", DefaultMaxItems, 1, MaxMaxItems)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	site := types.NormalizeSite(r.URL.Query().Get("site"))

	bids, err := s.bids.Recent(r.Context(), site, perItem, maxItems)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": bids,
		"count": len(bids),
	})
}
