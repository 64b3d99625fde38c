package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voxlane/voxlane/auth"
)

type createKeyRequest struct {
	Name          string            `json:"name"`
	Permissions   []auth.Permission `json:"permissions"`
	RateLimit     *auth.RateLimit   `json:"rate_limit,omitempty"`
	ExpiresInDays *int              `json:"expires_in_days,omitempty"`
}

func (a *API) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one permission is required"))
		return
	}
	limit := auth.DefaultRateLimit()
	if req.RateLimit != nil {
		limit = *req.RateLimit
	}

	info, err := a.authSvc.CreateKey(r.Context(), req.Name, req.Permissions, limit, req.ExpiresInDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, info)
}

func (a *API) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	err := a.authSvc.RevokeKey(r.Context(), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidApiKey) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeOK(w, nil)
}

func (a *API) handleKeyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.authSvc.Stats(r.Context(), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidApiKey) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeOK(w, stats)
}

func (a *API) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.authSvc.UsageReport(r.Context(), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidApiKey) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeOK(w, report)
}
