package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
	"github.com/fuomag9/integration-broker/internal/models"
	"github.com/fuomag9/integration-broker/internal/oauth"
)

const (
	airtableBaseType  = "Base"
	airtableTableType = "Table"

	// airtableMaxPages stops a base listing whose offset never runs out.
	airtableMaxPages = 100
	// airtableTableConcurrency caps concurrent schema requests per listing.
	airtableTableConcurrency = 5
)

var airtableEndpoints = Endpoints{
	AuthURL:  "https://airtable.com/oauth2/v1/authorize",
	TokenURL: "https://airtable.com/oauth2/v1/token",
	APIURL:   "https://api.airtable.com/v0",
}

var airtableDefaultScopes = []string{
	"data.records:read",
	"data.records:write",
	"data.recordComments:read",
	"data.recordComments:write",
	"schema.bases:read",
	"schema.bases:write",
}

// Airtable lists bases and their tables. It uses PKCE and a base64 state.
type Airtable struct {
	flow
	apiURL string
}

type airtableBase struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type airtableTable struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewAirtable creates the Airtable connector.
func NewAirtable(cfg *config.ProviderConfig, store cache.Store, httpClient *http.Client, logger zerolog.Logger, opts ...Option) *Airtable {
	o := applyOptions(airtableEndpoints, opts)

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = airtableDefaultScopes
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.endpoints.AuthURL,
			TokenURL:  o.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	return &Airtable{
		flow: flow{
			name:           config.ProviderAirtable,
			displayName:    "Airtable",
			store:          store,
			client:         oauth.NewClient(oauthCfg, oauth.FormBody, httpClient),
			codec:          oauth.Base64JSONCodec{},
			httpClient:     httpClient,
			logger:         logger,
			pkce:           true,
			authOptions:    []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("owner", "user")},
			exchangeParams: url.Values{"client_id": {cfg.ClientID}},
		},
		apiURL: o.endpoints.APIURL,
	}
}

// Authorize implements Connector.
func (a *Airtable) Authorize(ctx context.Context, userID, orgID string) (string, error) {
	return a.authorize(ctx, userID, orgID)
}

// Callback implements Connector.
func (a *Airtable) Callback(ctx context.Context, query url.Values) error {
	return a.callback(ctx, query)
}

// Credentials implements Connector.
func (a *Airtable) Credentials(ctx context.Context, userID, orgID string) (json.RawMessage, error) {
	return a.credentials(ctx, userID, orgID)
}

// Items implements Connector. Every base is followed by its tables.
func (a *Airtable) Items(ctx context.Context, credentials []byte) (json.RawMessage, error) {
	return a.items(ctx, credentials, a.fetchItems)
}

func (a *Airtable) fetchItems(ctx context.Context, client *http.Client) ([]*models.IntegrationItem, error) {
	bases, err := a.listBases(ctx, client)
	if err != nil {
		return nil, err
	}

	// A base whose schema cannot be read still shows up, just without tables.
	tables := make([][]airtableTable, len(bases))
	var g errgroup.Group
	g.SetLimit(airtableTableConcurrency)
	for i, base := range bases {
		g.Go(func() error {
			t, err := a.listTables(ctx, client, base.ID)
			if err != nil {
				a.logger.Warn().Err(err).Str("base_id", base.ID).Msg("failed to list airtable tables")
				return nil
			}
			tables[i] = t
			return nil
		})
	}
	_ = g.Wait()

	items := make([]*models.IntegrationItem, 0, len(bases))
	for i, base := range bases {
		baseID := models.ItemID(base.ID, airtableBaseType)

		item := models.NewIntegrationItem(baseID, airtableBaseType)
		item.Name = models.StringPtr(base.Name)
		items = append(items, item)

		for _, table := range tables[i] {
			child := models.NewIntegrationItem(models.ItemID(table.ID, airtableTableType), airtableTableType)
			child.Name = models.StringPtr(table.Name)
			child.ParentID = models.StringPtr(baseID)
			child.ParentPathOrName = models.StringPtr(base.Name)
			items = append(items, child)
		}
	}

	return items, nil
}

// listBases follows the offset cursor until the listing is exhausted.
func (a *Airtable) listBases(ctx context.Context, client *http.Client) ([]airtableBase, error) {
	endpoint := joinURL(a.apiURL, "meta/bases")

	var bases []airtableBase
	offset := ""
	for page := 0; page < airtableMaxPages; page++ {
		u := endpoint
		if offset != "" {
			u += "?" + url.Values{"offset": {offset}}.Encode()
		}

		var resp struct {
			Bases  []airtableBase `json:"bases"`
			Offset string         `json:"offset"`
		}
		if err := a.doJSON(ctx, client, "list_bases", http.MethodGet, u, nil, nil, &resp); err != nil {
			return nil, err
		}

		bases = append(bases, resp.Bases...)
		if resp.Offset == "" {
			return bases, nil
		}
		offset = resp.Offset
	}

	a.logger.Warn().Int("pages", airtableMaxPages).Msg("airtable base listing truncated")
	return bases, nil
}

func (a *Airtable) listTables(ctx context.Context, client *http.Client, baseID string) ([]airtableTable, error) {
	var resp struct {
		Tables []airtableTable `json:"tables"`
	}
	u := joinURL(a.apiURL, "meta/bases/"+url.PathEscape(baseID)+"/tables")
	if err := a.doJSON(ctx, client, "list_tables", http.MethodGet, u, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}
