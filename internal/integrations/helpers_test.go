package integrations

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
)

const testAccessToken = "at-123"

// fakeProvider serves a token endpoint under /token and the provider API under /api.
type fakeProvider struct {
	*httptest.Server

	tokenStatus atomic.Int32
	exchanges   atomic.Int32
	apiCalls    atomic.Int32

	mu          sync.Mutex
	tokenBody   string
	tokenHeader http.Header
	apiHeader   http.Header
}

func newFakeProvider(t *testing.T, api http.Handler) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}
	fp.tokenStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fp.exchanges.Add(1)
		body, _ := io.ReadAll(r.Body)

		fp.mu.Lock()
		fp.tokenBody = string(body)
		fp.tokenHeader = r.Header.Clone()
		fp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		status := int(fp.tokenStatus.Load())
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"access_token":"` + testAccessToken + `","token_type":"bearer","refresh_token":"rt"}`))
			return
		}
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	mux.Handle("/api/", http.StripPrefix("/api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.apiCalls.Add(1)
		fp.mu.Lock()
		fp.apiHeader = r.Header.Clone()
		fp.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if api == nil {
			http.NotFound(w, r)
			return
		}
		api.ServeHTTP(w, r)
	})))

	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) endpoints() Endpoints {
	return Endpoints{
		AuthURL:  fp.URL + "/authorize",
		TokenURL: fp.URL + "/token",
		APIURL:   fp.URL + "/api",
	}
}

func (fp *fakeProvider) lastTokenBody() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.tokenBody
}

func (fp *fakeProvider) lastTokenHeader() http.Header {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.tokenHeader
}

func (fp *fakeProvider) lastAPIHeader() http.Header {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.apiHeader
}

func newTestStore(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func testProviderConfig(name string) *config.ProviderConfig {
	return &config.ProviderConfig{
		Name:         name,
		Enabled:      true,
		ClientID:     name + "-client",
		ClientSecret: name + "-secret",
		RedirectURI:  "http://localhost:8000/integrations/" + name + "/oauth2callback",
	}
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

// stateFromURL returns the state parameter carried by an authorization URL.
func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}
