package integrations

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
	"github.com/fuomag9/integration-broker/internal/oauth"
)

func newTestAirtable(t *testing.T, api http.Handler) (*Airtable, *fakeProvider, *cache.RedisStore) {
	t.Helper()
	fp := newFakeProvider(t, api)
	store, _ := newTestStore(t)
	a := NewAirtable(testProviderConfig(config.ProviderAirtable), store, fp.Client(), zerolog.Nop(), WithEndpoints(fp.endpoints()))
	return a, fp, store
}

func TestAuthorize_StoresStateAndVerifier(t *testing.T) {
	fp := newFakeProvider(t, nil)
	store, mr := newTestStore(t)
	a := NewAirtable(testProviderConfig(config.ProviderAirtable), store, fp.Client(), zerolog.Nop(), WithEndpoints(fp.endpoints()))

	raw, err := a.Authorize(context.Background(), "u1", "o1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "airtable-client", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "user", q.Get("owner"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	decoded, err := base64.URLEncoding.DecodeString(q.Get("state"))
	require.NoError(t, err)
	var rec oauth.StateRecord
	require.NoError(t, json.Unmarshal(decoded, &rec))
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "o1", rec.OrgID)

	stateKey := "airtable_state:o1:u1"
	verifierKey := "airtable_verifier:o1:u1"
	require.True(t, mr.Exists(stateKey))
	require.True(t, mr.Exists(verifierKey))
	assert.Equal(t, OAuthTTL, mr.TTL(stateKey))
	assert.Equal(t, OAuthTTL, mr.TTL(verifierKey))

	saved, err := mr.Get(stateKey)
	require.NoError(t, err)
	assert.JSONEq(t, string(decoded), saved)

	verifier, err := mr.Get(verifierKey)
	require.NoError(t, err)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
}

func TestAuthorize_ReplacesPendingState(t *testing.T) {
	a, _, store := newTestAirtable(t, nil)
	ctx := context.Background()

	first, err := a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)
	_, err = a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)

	err = a.Callback(ctx, url.Values{"code": {"c"}, "state": {stateFromURL(t, first)}})
	assert.ErrorIs(t, err, ErrStateMismatch)

	_, err = store.Get(ctx, cache.StateKey(config.ProviderAirtable, "o1", "u1"))
	assert.NoError(t, err)
}

func TestCallback_Success(t *testing.T) {
	a, fp, store := newTestAirtable(t, nil)
	ctx := context.Background()

	raw, err := a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)
	verifier, err := store.Get(ctx, cache.VerifierKey(config.ProviderAirtable, "o1", "u1"))
	require.NoError(t, err)

	err = a.Callback(ctx, url.Values{"code": {"the-code"}, "state": {stateFromURL(t, raw)}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fp.exchanges.Load())

	form, err := url.ParseQuery(fp.lastTokenBody())
	require.NoError(t, err)
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, string(verifier), form.Get("code_verifier"))
	assert.Equal(t, "airtable-client", form.Get("client_id"))
	assert.Empty(t, form.Get("client_secret"))
	assert.Contains(t, fp.lastTokenHeader().Get("Authorization"), "Basic ")

	_, err = store.Get(ctx, cache.StateKey(config.ProviderAirtable, "o1", "u1"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = store.Get(ctx, cache.VerifierKey(config.ProviderAirtable, "o1", "u1"))
	assert.ErrorIs(t, err, cache.ErrNotFound)

	creds, err := a.Credentials(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"at-123","token_type":"bearer","refresh_token":"rt"}`, string(creds))

	_, err = a.Credentials(ctx, "u1", "o1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCallback_StateMismatch(t *testing.T) {
	a, fp, store := newTestAirtable(t, nil)
	ctx := context.Background()

	_, err := a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)

	forged, err := oauth.Base64JSONCodec{}.Encode(oauth.StateRecord{State: "forged", UserID: "u1", OrgID: "o1"})
	require.NoError(t, err)

	err = a.Callback(ctx, url.Values{"code": {"c"}, "state": {forged}})
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, int32(0), fp.exchanges.Load())

	_, err = store.Get(ctx, cache.StateKey(config.ProviderAirtable, "o1", "u1"))
	assert.NoError(t, err, "state survives a failed callback")
	_, err = store.Get(ctx, cache.CredentialsKey(config.ProviderAirtable, "o1", "u1"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCallback_NoPendingState(t *testing.T) {
	a, fp, _ := newTestAirtable(t, nil)

	state, err := oauth.Base64JSONCodec{}.Encode(oauth.StateRecord{State: "s", UserID: "u1", OrgID: "o1"})
	require.NoError(t, err)

	err = a.Callback(context.Background(), url.Values{"code": {"c"}, "state": {state}})
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, int32(0), fp.exchanges.Load())
}

func TestCallback_ProviderError(t *testing.T) {
	a, fp, store := newTestAirtable(t, nil)
	ctx := context.Background()

	raw, err := a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)

	err = a.Callback(ctx, url.Values{
		"error":             {"access_denied"},
		"error_description": {"User denied access"},
		"state":             {stateFromURL(t, raw)},
	})

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "access_denied", authErr.Code)
	assert.Contains(t, authErr.Detail(), "User denied access")
	assert.Equal(t, int32(0), fp.exchanges.Load())

	_, err = store.Get(ctx, cache.CredentialsKey(config.ProviderAirtable, "o1", "u1"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = store.Get(ctx, cache.StateKey(config.ProviderAirtable, "o1", "u1"))
	assert.NoError(t, err)
}

func TestCallback_MalformedInput(t *testing.T) {
	a, fp, _ := newTestAirtable(t, nil)

	tests := []struct {
		name       string
		query      url.Values
		wantDetail string
	}{
		{"missing code", url.Values{"state": {"abc"}}, "Missing code or state."},
		{"missing state", url.Values{"code": {"c"}}, "Missing code or state."},
		{"undecodable state", url.Values{"code": {"c"}, "state": {"%%%"}}, "Invalid state parameter."},
		{"state not json", url.Values{"code": {"c"}, "state": {base64.URLEncoding.EncodeToString([]byte("{oops"))}}, "Invalid state parameter."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Callback(context.Background(), tt.query)
			assert.ErrorIs(t, err, ErrInvalidRequest)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.wantDetail, reqErr.Detail)
		})
	}
	assert.Equal(t, int32(0), fp.exchanges.Load())
}

func TestCallback_TokenRejected(t *testing.T) {
	a, fp, store := newTestAirtable(t, nil)
	fp.tokenStatus.Store(http.StatusBadRequest)
	ctx := context.Background()

	raw, err := a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)

	err = a.Callback(ctx, url.Values{"code": {"c"}, "state": {stateFromURL(t, raw)}})

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)

	_, err = store.Get(ctx, cache.CredentialsKey(config.ProviderAirtable, "o1", "u1"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCredentials_Missing(t *testing.T) {
	a, _, _ := newTestAirtable(t, nil)

	_, err := a.Credentials(context.Background(), "nobody", "o1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCredentials_Expire(t *testing.T) {
	fp := newFakeProvider(t, nil)
	store, mr := newTestStore(t)
	a := NewAirtable(testProviderConfig(config.ProviderAirtable), store, fp.Client(), zerolog.Nop(), WithEndpoints(fp.endpoints()))
	ctx := context.Background()

	raw, err := a.Authorize(ctx, "u1", "o1")
	require.NoError(t, err)
	require.NoError(t, a.Callback(ctx, url.Values{"code": {"c"}, "state": {stateFromURL(t, raw)}}))

	mr.FastForward(OAuthTTL + time.Second)

	_, err = a.Credentials(ctx, "u1", "o1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestItems_InvalidCredentials(t *testing.T) {
	a, fp, _ := newTestAirtable(t, nil)

	for _, creds := range []string{`not json`, `{}`, `{"access_token":""}`} {
		_, err := a.Items(context.Background(), []byte(creds))
		assert.ErrorIs(t, err, ErrInvalidRequest, creds)
	}
	assert.Equal(t, int32(0), fp.apiCalls.Load())
}
