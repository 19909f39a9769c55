package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fuomag9/integration-broker/internal/integrations"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already serialized JSON document.
func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeIntegrationError maps a connector error to a status code. Errors that
// are not client mistakes or provider failures are logged and hidden.
func writeIntegrationError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	var authErr *integrations.AuthorizationError
	var reqErr *integrations.RequestError
	var upErr *integrations.UpstreamError

	switch {
	case errors.As(err, &authErr):
		logger.Info().Str("code", authErr.Code).Msg("authorization rejected by provider")
		writeError(w, http.StatusBadRequest, authErr.Detail())
	case errors.Is(err, integrations.ErrStateMismatch):
		writeError(w, http.StatusBadRequest, "State does not match.")
	case errors.Is(err, integrations.ErrNoCredentials):
		writeError(w, http.StatusBadRequest, "No credentials found.")
	case errors.As(err, &reqErr):
		logger.Info().Err(err).Msg("invalid integration request")
		writeError(w, http.StatusBadRequest, reqErr.Detail)
	case errors.Is(err, integrations.ErrInvalidRequest):
		logger.Info().Err(err).Msg("invalid integration request")
		writeError(w, http.StatusBadRequest, "Invalid request.")
	case errors.As(err, &upErr):
		logger.Warn().Err(err).Msg("provider request failed")
		writeError(w, http.StatusBadGateway, upErr.Provider+" "+upErr.Operation+" failed.")
	default:
		logger.Error().Err(err).Msg("integration request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
