package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fuomag9/integration-broker/internal/integrations"
)

// closeWindowHTML is served after a successful OAuth callback so the popup
// that started the flow closes itself.
const closeWindowHTML = "<html><script>window.close();</script></html>"

type connectorKey struct{}

// ConnectorMiddleware resolves the {provider} URL parameter to a connector.
func ConnectorMiddleware(registry *integrations.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "provider")
			c, ok := registry.Get(name)
			if !ok {
				writeError(w, http.StatusNotFound, "Unknown integration: "+name)
				return
			}

			ctx := context.WithValue(r.Context(), connectorKey{}, c)
			ctx = zerolog.Ctx(ctx).With().Str("provider", name).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func connectorFrom(r *http.Request) integrations.Connector {
	c, _ := r.Context().Value(connectorKey{}).(integrations.Connector)
	return c
}

// HandleAuthorize starts an OAuth flow and returns the authorization URL as a JSON string
func HandleAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := decodeOwnerForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		authURL, err := connectorFrom(r).Authorize(r.Context(), form.UserID, form.OrgID)
		if err != nil {
			writeIntegrationError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, authURL)
	}
}

// HandleOAuthCallback completes the flow the provider redirected back from
func HandleOAuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := connectorFrom(r).Callback(r.Context(), r.URL.Query()); err != nil {
			writeIntegrationError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(closeWindowHTML))
	}
}

// HandleGetCredentials hands out the stored credentials once
func HandleGetCredentials() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := decodeOwnerForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		creds, err := connectorFrom(r).Credentials(r.Context(), form.UserID, form.OrgID)
		if err != nil {
			writeIntegrationError(w, r, err)
			return
		}

		writeRawJSON(w, http.StatusOK, creds)
	}
}

// HandleLoadItems returns the normalized item list for a credentials blob
func HandleLoadItems() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := decodeCredentials(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		items, err := connectorFrom(r).Items(r.Context(), creds)
		if err != nil {
			writeIntegrationError(w, r, err)
			return
		}

		writeRawJSON(w, http.StatusOK, items)
	}
}

// HandleListIntegrations returns the names of the enabled providers
func HandleListIntegrations(registry *integrations.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"integrations": registry.Names()})
	}
}
