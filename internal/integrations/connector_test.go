package integrations

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/fuomag9/integration-broker/internal/config"
)

func TestNewRegistryFromConfig(t *testing.T) {
	store, _ := newTestStore(t)

	airtable := testProviderConfig(config.ProviderAirtable)
	notion := testProviderConfig(config.ProviderNotion)
	hubspot := &config.ProviderConfig{Name: config.ProviderHubSpot}

	cfg := &config.Config{
		HTTPClientTimeout: 5 * time.Second,
		Providers: map[string]*config.ProviderConfig{
			config.ProviderAirtable: airtable,
			config.ProviderHubSpot:  hubspot,
			config.ProviderNotion:   notion,
		},
	}

	reg := NewRegistryFromConfig(cfg, store, zerolog.Nop())

	assert.Equal(t, []string{"airtable", "notion"}, reg.Names())

	c, ok := reg.Get("airtable")
	assert.True(t, ok)
	assert.IsType(t, &Airtable{}, c)

	_, ok = reg.Get("hubspot")
	assert.False(t, ok)
}

func TestWithEndpoints_KeepsDefaults(t *testing.T) {
	o := applyOptions(notionEndpoints, []Option{WithEndpoints(Endpoints{APIURL: "http://localhost/api"})})

	assert.Equal(t, notionEndpoints.AuthURL, o.endpoints.AuthURL)
	assert.Equal(t, notionEndpoints.TokenURL, o.endpoints.TokenURL)
	assert.Equal(t, "http://localhost/api", o.endpoints.APIURL)
}

func TestErrors(t *testing.T) {
	denied := &AuthorizationError{Provider: "Airtable", Code: "access_denied"}
	assert.Equal(t, "access_denied", denied.Detail())

	denied.Description = "User said no"
	assert.Equal(t, "User said no (access_denied)", denied.Detail())
	assert.Contains(t, denied.Error(), "Airtable")

	up := &UpstreamError{Provider: "Notion", Operation: "search", StatusCode: 500, Err: assert.AnError}
	assert.ErrorIs(t, up, assert.AnError)
	assert.Contains(t, up.Error(), "500")
}
