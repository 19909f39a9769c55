package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// maxTokenResponseBytes caps how much of a token endpoint response is read.
const maxTokenResponseBytes = 1 << 20

// BodyEncoding selects how the token request body is encoded.
type BodyEncoding int

const (
	// FormBody sends application/x-www-form-urlencoded (RFC 6749).
	FormBody BodyEncoding = iota
	// JSONBody sends application/json, as Notion expects.
	JSONBody
)

// Client performs the authorization-code leg of OAuth2 for one provider.
// URL construction is delegated to oauth2.Config; the token exchange is done
// by hand so the provider's raw response can be kept verbatim.
type Client struct {
	config     *oauth2.Config
	encoding   BodyEncoding
	httpClient *http.Client
}

// TokenExchangeError is returned when the token endpoint answers with a non-2xx status.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new OAuth client. The endpoint's AuthStyle decides where
// the client credentials go: AuthStyleInHeader (Basic) or AuthStyleInParams (body).
func NewClient(cfg *oauth2.Config, encoding BodyEncoding, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		config:     cfg,
		encoding:   encoding,
		httpClient: httpClient,
	}
}

// GenerateState generates a random state token for CSRF protection
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeVerifier generates a PKCE code verifier (32 random bytes, base64url).
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthorizationURL returns the provider authorization URL carrying client id,
// redirect URI, scopes and the encoded state, plus any extra options
// (PKCE challenge, provider-specific params).
func (c *Client) AuthorizationURL(state string, opts ...oauth2.AuthCodeOption) string {
	return c.config.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens and returns the
// token endpoint's JSON response untouched. extra is merged into the request body.
func (c *Client) ExchangeCode(ctx context.Context, code string, extra url.Values) (json.RawMessage, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	if c.config.RedirectURL != "" {
		data.Set("redirect_uri", c.config.RedirectURL)
	}
	for key, values := range extra {
		data[key] = values
	}
	if c.config.Endpoint.AuthStyle == oauth2.AuthStyleInParams {
		data.Set("client_id", c.config.ClientID)
		data.Set("client_secret", c.config.ClientSecret)
	}

	body, contentType, err := c.encodeBody(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint.TokenURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.config.Endpoint.AuthStyle != oauth2.AuthStyleInParams {
		req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return json.RawMessage(raw), nil
}

func (c *Client) encodeBody(data url.Values) (io.Reader, string, error) {
	if c.encoding == JSONBody {
		flat := make(map[string]string, len(data))
		for key := range data {
			flat[key] = data.Get(key)
		}
		payload, err := json.Marshal(flat)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode token request: %w", err)
		}
		return bytes.NewReader(payload), "application/json", nil
	}
	return strings.NewReader(data.Encode()), "application/x-www-form-urlencoded", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
