package apihttp

import (
	"net/http"
	"net/url"
)

// handleWebhooks manages the per-user webhook URLs that receive every
// published event.
func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks not available")
		return
	}
	user := userFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		urls, err := s.webhooks.List(r.Context(), user.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if urls == nil {
			urls = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"urls": urls})

	case http.MethodPost:
		var req struct {
			URL string `json:"url"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		parsed, err := url.Parse(req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			writeError(w, http.StatusBadRequest, "invalid webhook url")
			return
		}
		if err := s.webhooks.Register(r.Context(), user.ID, req.URL); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})

	case http.MethodDelete:
		var req struct {
			URL string `json:"url"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.webhooks.Unregister(r.Context(), user.ID, req.URL); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
