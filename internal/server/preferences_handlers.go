package server

import (
	"errors"
	"net/http"

	"newsfeed/internal/auth"
	"newsfeed/internal/core"
	"newsfeed/internal/preferences"
)

// SetPreferencesRequest is the body of POST /api/preferences
type SetPreferencesRequest struct {
	PreferenceText string `json:"preferenceText"`
}

// SetPreferencesResponse returns the stored record and a token that lets the
// next feed request use it before the store catches up.
type SetPreferencesResponse struct {
	Message          string                `json:"message"`
	Preferences      core.PreferenceRecord `json:"preferences"`
	ConsistencyToken string                `json:"consistencyToken,omitempty"`
}

// GetPreferencesResponse is the body of GET /api/preferences
type GetPreferencesResponse struct {
	Preferences *core.PreferenceRecord `json:"preferences"`
}

// handleSetPreferences handles POST /api/preferences
func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req SetPreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	record, token, err := s.deps.Preferences.Write(r.Context(), userID, req.PreferenceText)
	if errors.Is(err, preferences.ErrEmptyPreferences) {
		s.respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "internal server error", err)
		return
	}

	resp := SetPreferencesResponse{
		Message:     "Preferences saved",
		Preferences: record,
	}
	if s.deps.Tokens != nil {
		encoded, err := s.deps.Tokens.Encode(token)
		if err != nil {
			s.log.Warn("Failed to encode consistency token", "user_id", userID, "error", err)
		}
		resp.ConsistencyToken = encoded
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleGetPreferences handles GET /api/preferences
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	record, err := s.deps.Preferences.Read(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "internal server error", err)
		return
	}

	s.respondJSON(w, http.StatusOK, GetPreferencesResponse{Preferences: record})
}
