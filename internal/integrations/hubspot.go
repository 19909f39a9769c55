package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
	"github.com/fuomag9/integration-broker/internal/models"
	"github.com/fuomag9/integration-broker/internal/oauth"
)

const hubspotContactType = "HubSpot_Contact"

var hubspotEndpoints = Endpoints{
	AuthURL:  "https://app.hubspot.com/oauth/authorize",
	TokenURL: "https://api.hubapi.com/oauth/v1/token",
	APIURL:   "https://api.hubapi.com",
}

var hubspotContactProperties = []string{
	"firstname",
	"lastname",
	"email",
	"phone",
	"company",
	"jobtitle",
	"hs_lead_status",
	"createdate",
}

// HubSpot lists CRM contacts. The state travels as plain JSON and client
// credentials go in the token request body.
type HubSpot struct {
	flow
	apiURL string
}

type hubspotContact struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
}

func (c hubspotContact) property(name string) string {
	if v := c.Properties[name]; v != nil {
		return *v
	}
	return ""
}

// optional returns a copy of a property. Absent and null properties are nil;
// an empty string sent by HubSpot is kept.
func (c hubspotContact) optional(name string) *string {
	v := c.Properties[name]
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// NewHubSpot creates the HubSpot connector.
func NewHubSpot(cfg *config.ProviderConfig, store cache.Store, httpClient *http.Client, logger zerolog.Logger, opts ...Option) *HubSpot {
	o := applyOptions(hubspotEndpoints, opts)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.endpoints.AuthURL,
			TokenURL:  o.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return &HubSpot{
		flow: flow{
			name:        config.ProviderHubSpot,
			displayName: "HubSpot",
			store:       store,
			client:      oauth.NewClient(oauthCfg, oauth.FormBody, httpClient),
			codec:       oauth.LenientJSONCodec{},
			httpClient:  httpClient,
			logger:      logger,
		},
		apiURL: o.endpoints.APIURL,
	}
}

// Authorize implements Connector.
func (h *HubSpot) Authorize(ctx context.Context, userID, orgID string) (string, error) {
	return h.authorize(ctx, userID, orgID)
}

// Callback implements Connector.
func (h *HubSpot) Callback(ctx context.Context, query url.Values) error {
	return h.callback(ctx, query)
}

// Credentials implements Connector.
func (h *HubSpot) Credentials(ctx context.Context, userID, orgID string) (json.RawMessage, error) {
	return h.credentials(ctx, userID, orgID)
}

// Items implements Connector. Only the first page of contacts is returned.
func (h *HubSpot) Items(ctx context.Context, credentials []byte) (json.RawMessage, error) {
	return h.items(ctx, credentials, h.fetchContacts)
}

func (h *HubSpot) fetchContacts(ctx context.Context, client *http.Client) ([]*models.IntegrationItem, error) {
	q := url.Values{}
	q.Set("limit", "100")
	q.Set("properties", strings.Join(hubspotContactProperties, ","))
	u := joinURL(h.apiURL, "crm/v3/objects/contacts") + "?" + q.Encode()

	var resp struct {
		Results []hubspotContact `json:"results"`
	}
	if err := h.doJSON(ctx, client, "list_contacts", http.MethodGet, u, nil, nil, &resp); err != nil {
		return nil, err
	}

	items := make([]*models.IntegrationItem, 0, len(resp.Results))
	for _, c := range resp.Results {
		items = append(items, contactItem(c))
	}
	return items, nil
}

func contactItem(c hubspotContact) *models.IntegrationItem {
	item := models.NewIntegrationItem(models.ItemID(c.ID, hubspotContactType), hubspotContactType)

	name := strings.TrimSpace(c.property("firstname") + " " + c.property("lastname"))
	item.Name = &name
	item.Email = c.optional("email")
	item.PhoneNumber = c.optional("phone")
	item.CompanyName = c.optional("company")
	item.EmploymentRole = c.optional("jobtitle")
	item.LeadStatus = c.optional("hs_lead_status")

	created := c.CreatedAt
	if created == "" {
		created = c.property("createdate")
	}
	item.CreationTime = models.TimePtr(created)
	item.LastModifiedTime = models.TimePtr(c.UpdatedAt)

	return item
}
