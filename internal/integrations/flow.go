package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/models"
	"github.com/fuomag9/integration-broker/internal/oauth"
)

const (
	// OAuthTTL bounds the lifetime of state records, verifiers and credentials.
	OAuthTTL = 600 * time.Second
	// ItemsTTL bounds the lifetime of a cached item listing.
	ItemsTTL = 300 * time.Second

	maxResponseBytes = 10 << 20
)

// flow is the provider-independent part of every connector: the state and
// credential bookkeeping around the OAuth redirect and the cached item fetch.
type flow struct {
	name        string
	displayName string

	store      cache.Store
	client     *oauth.Client
	codec      oauth.StateCodec
	httpClient *http.Client
	logger     zerolog.Logger

	// pkce enables an S256 challenge whose verifier is cached next to the state.
	pkce bool
	// authOptions are appended to every authorization URL.
	authOptions []oauth2.AuthCodeOption
	// exchangeParams are added to every token request body.
	exchangeParams url.Values
}

func (f *flow) Name() string {
	return f.name
}

func (f *flow) authorize(ctx context.Context, userID, orgID string) (string, error) {
	rec, err := oauth.NewStateRecord(userID, orgID)
	if err != nil {
		return "", err
	}

	encoded, err := f.codec.Encode(rec)
	if err != nil {
		return "", err
	}

	saved, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	opts := append([]oauth2.AuthCodeOption(nil), f.authOptions...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.store.Set(gctx, cache.StateKey(f.name, orgID, userID), saved, OAuthTTL)
	})
	if f.pkce {
		verifier := oauth.GenerateCodeVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
		g.Go(func() error {
			return f.store.Set(gctx, cache.VerifierKey(f.name, orgID, userID), []byte(verifier), OAuthTTL)
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("failed to save oauth state: %w", err)
	}

	f.logger.Debug().
		Str("provider", f.name).
		Str("user_id", userID).
		Str("org_id", orgID).
		Msg("authorization started")

	return f.client.AuthorizationURL(encoded, opts...), nil
}

func (f *flow) callback(ctx context.Context, query url.Values) error {
	err := f.handleCallback(ctx, query)

	result := "success"
	var authErr *AuthorizationError
	var upErr *UpstreamError
	switch {
	case err == nil:
	case errors.As(err, &authErr):
		result = "denied"
	case errors.Is(err, ErrStateMismatch):
		result = "state_mismatch"
	case errors.Is(err, ErrInvalidRequest):
		result = "invalid"
	case errors.As(err, &upErr):
		result = "exchange_failed"
	default:
		result = "error"
	}
	oauthCallbacksTotal.WithLabelValues(f.name, result).Inc()

	return err
}

func (f *flow) handleCallback(ctx context.Context, query url.Values) error {
	if code := query.Get("error"); code != "" {
		return &AuthorizationError{
			Provider:    f.displayName,
			Code:        code,
			Description: query.Get("error_description"),
		}
	}

	code := query.Get("code")
	rawState := query.Get("state")
	if code == "" || rawState == "" {
		return &RequestError{Detail: "Missing code or state."}
	}

	rec, err := f.codec.Decode(rawState)
	if err != nil {
		return &RequestError{Detail: "Invalid state parameter.", Err: err}
	}

	stateKey := cache.StateKey(f.name, rec.OrgID, rec.UserID)
	saved, err := f.store.Get(ctx, stateKey)
	if errors.Is(err, cache.ErrNotFound) {
		return ErrStateMismatch
	}
	if err != nil {
		return fmt.Errorf("failed to load oauth state: %w", err)
	}

	var savedRec oauth.StateRecord
	if err := json.Unmarshal(saved, &savedRec); err != nil || !savedRec.Matches(rec) {
		f.logger.Warn().
			Str("provider", f.name).
			Str("user_id", rec.UserID).
			Str("org_id", rec.OrgID).
			Msg("oauth state mismatch")
		return ErrStateMismatch
	}

	keys := []string{stateKey}
	extra := url.Values{}
	for k, v := range f.exchangeParams {
		extra[k] = v
	}

	if f.pkce {
		verifierKey := cache.VerifierKey(f.name, rec.OrgID, rec.UserID)
		verifier, err := f.store.Get(ctx, verifierKey)
		if errors.Is(err, cache.ErrNotFound) {
			return ErrStateMismatch
		}
		if err != nil {
			return fmt.Errorf("failed to load code verifier: %w", err)
		}
		extra.Set("code_verifier", string(verifier))
		keys = append(keys, verifierKey)
	}

	// Both operations run to completion even if one fails.
	var token json.RawMessage
	var g errgroup.Group
	g.Go(func() error {
		raw, err := f.client.ExchangeCode(ctx, code, extra)
		if err != nil {
			upErr := &UpstreamError{Provider: f.displayName, Operation: "token exchange", Err: err}
			var exErr *oauth.TokenExchangeError
			if errors.As(err, &exErr) {
				upErr.StatusCode = exErr.StatusCode
			}
			return upErr
		}
		token = raw
		return nil
	})
	g.Go(func() error {
		if err := f.store.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("failed to delete oauth state: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := f.store.Set(ctx, cache.CredentialsKey(f.name, rec.OrgID, rec.UserID), token, OAuthTTL); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	f.logger.Info().
		Str("provider", f.name).
		Str("user_id", rec.UserID).
		Str("org_id", rec.OrgID).
		Msg("oauth callback completed")

	return nil
}

func (f *flow) credentials(ctx context.Context, userID, orgID string) (json.RawMessage, error) {
	raw, err := f.store.Take(ctx, cache.CredentialsKey(f.name, orgID, userID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("stored credentials for %s are not valid JSON", f.name)
	}
	return raw, nil
}

// fetchFunc lists the provider's records using an authenticated client.
type fetchFunc func(ctx context.Context, client *http.Client) ([]*models.IntegrationItem, error)

func (f *flow) items(ctx context.Context, credentials []byte, fetch fetchFunc) (json.RawMessage, error) {
	var creds struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(credentials, &creds); err != nil {
		return nil, &RequestError{Detail: "Credentials are not valid JSON.", Err: err}
	}
	if creds.AccessToken == "" {
		return nil, &RequestError{Detail: "Credentials have no access_token."}
	}

	key := cache.ItemsKey(f.name, creds.AccessToken)
	cached, err := f.store.Get(ctx, key)
	switch {
	case err == nil:
		itemsCacheTotal.WithLabelValues(f.name, "hit").Inc()
		return cached, nil
	case !errors.Is(err, cache.ErrNotFound):
		f.logger.Warn().Err(err).Str("provider", f.name).Msg("items cache read failed")
	}
	itemsCacheTotal.WithLabelValues(f.name, "miss").Inc()

	items, err := fetch(ctx, f.apiClient(ctx, creds.AccessToken))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.IntegrationItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal items: %w", err)
	}

	if err := f.store.Set(ctx, key, data, ItemsTTL); err != nil {
		f.logger.Warn().Err(err).Str("provider", f.name).Msg("items cache write failed")
	}

	f.logger.Debug().Str("provider", f.name).Int("count", len(items)).Msg("items fetched")

	return data, nil
}

// apiClient returns an HTTP client that sends the bearer token on every request.
func (f *flow) apiClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// doJSON sends a request to the provider API and decodes a 2xx JSON answer into out.
func (f *flow) doJSON(ctx context.Context, client *http.Client, operation, method, rawURL string, body any, header http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(f.name, operation, "error").Inc()
		return &UpstreamError{Provider: f.displayName, Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(f.name, operation, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &UpstreamError{Provider: f.displayName, Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{
			Provider:   f.displayName,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(string(data), 200)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{
			Provider:   f.displayName,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func joinURL(base, path string) string {
	u, err := url.JoinPath(base, path)
	if err != nil {
		return base + path
	}
	return u
}
