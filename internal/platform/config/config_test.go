package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AppEnv:            "test",
		Port:              "8080",
		ClientID:          "client-id",
		ClientSecret:      "client-secret",
		TenantID:          "tenant-id",
		RedirectURI:       "https://example.com/auth/callback",
		AuthorityURL:      "https://login.microsoftonline.com",
		SharePointSiteURL: "https://contoso.sharepoint.com/sites/TravelManagement",
		SharePointList:    "TravelRequests",
		GraphURL:          "https://graph.microsoft.com",
		AdminEmails:       "admin@example.com",
		TransportEmail:    "transport@example.com",
		SessionSecret:     strings.Repeat("s", 32),
		SessionMaxAge:     8 * time.Hour,
	}
}

func TestValidate_AllRequiredPresent(t *testing.T) {
	require.NoError(t, validate(validConfig()))
}

func TestValidate_MissingRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"client id", func(c *Config) { c.ClientID = "" }, "MS_CLIENT_ID"},
		{"client secret", func(c *Config) { c.ClientSecret = "" }, "MS_CLIENT_SECRET"},
		{"tenant", func(c *Config) { c.TenantID = "" }, "MS_TENANT_ID"},
		{"redirect", func(c *Config) { c.RedirectURI = "" }, "MS_REDIRECT_URI"},
		{"site url", func(c *Config) { c.SharePointSiteURL = "" }, "SHAREPOINT_SITE_URL"},
		{"admins", func(c *Config) { c.AdminEmails = "" }, "ADMIN_EMAILS"},
		{"transport", func(c *Config) { c.TransportEmail = "" }, "TRANSPORT_EMAIL"},
		{"session secret", func(c *Config) { c.SessionSecret = "" }, "SESSION_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ShortSessionSecret(t *testing.T) {
	cfg := validConfig()
	cfg.SessionSecret = "too-short"
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestValidate_MalformedSiteURL(t *testing.T) {
	cfg := validConfig()
	cfg.SharePointSiteURL = "not a url"
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHAREPOINT_SITE_URL")
}

func TestAdmins_NormalizesAndSplits(t *testing.T) {
	cfg := validConfig()
	cfg.AdminEmails = " Admin@Example.COM , second@example.com ,, "

	assert.Equal(t, []string{"admin@example.com", "second@example.com"}, cfg.Admins())
}
