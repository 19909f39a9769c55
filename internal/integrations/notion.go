package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
	"github.com/fuomag9/integration-broker/internal/models"
	"github.com/fuomag9/integration-broker/internal/oauth"
)

const (
	notionItemType    = "Notion_Companies"
	notionVersion     = "2022-06-28"
	notionUntitled    = "Untitled"
	notionSearchLimit = 100
)

// Property names read from each page.
const (
	notionEmailProperty    = "Email"
	notionPhoneProperty    = "Contact Number"
	notionLocationProperty = "City/Country"
)

var notionEndpoints = Endpoints{
	AuthURL:  "https://api.notion.com/v1/oauth/authorize",
	TokenURL: "https://api.notion.com/v1/oauth/token",
	APIURL:   "https://api.notion.com/v1",
}

// Notion lists the pages shared with the integration. Pages lacking any of the
// company fields are left out of the listing.
type Notion struct {
	flow
	apiURL string
}

// NewNotion creates the Notion connector.
func NewNotion(cfg *config.ProviderConfig, store cache.Store, httpClient *http.Client, logger zerolog.Logger, opts ...Option) *Notion {
	o := applyOptions(notionEndpoints, opts)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.endpoints.AuthURL,
			TokenURL:  o.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	return &Notion{
		flow: flow{
			name:        config.ProviderNotion,
			displayName: "Notion",
			store:       store,
			client:      oauth.NewClient(oauthCfg, oauth.JSONBody, httpClient),
			codec:       oauth.JSONCodec{},
			httpClient:  httpClient,
			logger:      logger,
			authOptions: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("owner", "user")},
		},
		apiURL: o.endpoints.APIURL,
	}
}

// Authorize implements Connector.
func (n *Notion) Authorize(ctx context.Context, userID, orgID string) (string, error) {
	return n.authorize(ctx, userID, orgID)
}

// Callback implements Connector.
func (n *Notion) Callback(ctx context.Context, query url.Values) error {
	return n.callback(ctx, query)
}

// Credentials implements Connector.
func (n *Notion) Credentials(ctx context.Context, userID, orgID string) (json.RawMessage, error) {
	return n.credentials(ctx, userID, orgID)
}

// Items implements Connector.
func (n *Notion) Items(ctx context.Context, credentials []byte) (json.RawMessage, error) {
	return n.items(ctx, credentials, n.search)
}

func (n *Notion) search(ctx context.Context, client *http.Client) ([]*models.IntegrationItem, error) {
	header := http.Header{}
	header.Set("Notion-Version", notionVersion)

	var resp struct {
		Results []map[string]any `json:"results"`
	}
	body := map[string]any{"page_size": notionSearchLimit}
	if err := n.doJSON(ctx, client, "search", http.MethodPost, joinURL(n.apiURL, "search"), body, header, &resp); err != nil {
		return nil, err
	}

	items := make([]*models.IntegrationItem, 0, len(resp.Results))
	for _, record := range resp.Results {
		item, ok := notionItem(record)
		if !ok {
			n.logger.Debug().Interface("id", record["id"]).Msg("skipping notion record with missing fields")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// notionItem normalizes one search result. It reports false when a required
// field is missing.
func notionItem(record map[string]any) (*models.IntegrationItem, bool) {
	id, _ := record["id"].(string)
	properties, _ := record["properties"].(map[string]any)

	name := notionTitle(properties)
	email := stringValue(properties[notionEmailProperty], "email")
	phone := stringValue(properties[notionPhoneProperty], "phone_number")

	var location string
	if v, ok := findKey(properties[notionLocationProperty], "rich_text"); ok {
		location = firstPlainText(v)
	}

	createdRaw, _ := record["created_time"].(string)
	created := models.TimePtr(createdRaw)

	if id == "" || email == "" || phone == "" || location == "" || created == nil {
		return nil, false
	}

	item := models.NewIntegrationItem(models.ItemID(id, notionItemType), notionItemType)
	item.Name = models.StringPtr(name)
	item.Email = models.StringPtr(email)
	item.PhoneNumber = models.StringPtr(phone)
	item.Location = models.StringPtr(location)
	item.CreationTime = created

	if u, ok := record["url"].(string); ok {
		item.URL = models.StringPtr(u)
	}
	if edited, ok := record["last_edited_time"].(string); ok {
		item.LastModifiedTime = models.TimePtr(edited)
	}

	return item, true
}

// notionTitle returns the text of the title-typed property, or "Untitled".
func notionTitle(properties map[string]any) string {
	names := make([]string, 0, len(properties))
	for k := range properties {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		prop, ok := properties[k].(map[string]any)
		if !ok || prop["type"] != "title" {
			continue
		}
		if v, ok := findKey(prop, "title"); ok {
			if s := firstPlainText(v); s != "" {
				return s
			}
		}
		break
	}
	return notionUntitled
}
