package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Microsoft identity platform (Entra ID app registration).
	ClientID     string `env:"MS_CLIENT_ID"`
	ClientSecret string `env:"MS_CLIENT_SECRET"`
	TenantID     string `env:"MS_TENANT_ID"`
	RedirectURI  string `env:"MS_REDIRECT_URI"`
	AuthorityURL string `env:"MS_AUTHORITY_URL" default:"https://login.microsoftonline.com"`

	// SharePoint list backing the travel requests.
	SharePointSiteURL string `env:"SHAREPOINT_SITE_URL"`
	SharePointList    string `env:"SHAREPOINT_LIST_NAME" default:"TravelRequests"`

	// Microsoft Graph (profile lookup and mail drafts).
	GraphURL string `env:"GRAPH_URL" default:"https://graph.microsoft.com"`

	// Comma-separated list of admin principal names (case-insensitive).
	AdminEmails string `env:"ADMIN_EMAILS"`

	// Transport desk the batch dispatch mail draft is addressed to.
	TransportEmail         string `env:"TRANSPORT_EMAIL"`
	TransportSubjectPrefix string `env:"TRANSPORT_SUBJECT_PREFIX" default:"Travel Requests for "`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"8h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"MS_CLIENT_ID":        cfg.ClientID,
		"MS_CLIENT_SECRET":    cfg.ClientSecret,
		"MS_TENANT_ID":        cfg.TenantID,
		"MS_REDIRECT_URI":     cfg.RedirectURI,
		"SHAREPOINT_SITE_URL": cfg.SharePointSiteURL,
		"ADMIN_EMAILS":        cfg.AdminEmails,
		"TRANSPORT_EMAIL":     cfg.TransportEmail,
		"SESSION_SECRET":      cfg.SessionSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := url.ParseRequestURI(cfg.SharePointSiteURL); err != nil {
		return fmt.Errorf("SHAREPOINT_SITE_URL must be a valid URL: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.RedirectURI); err != nil {
		return fmt.Errorf("MS_REDIRECT_URI must be a valid URL: %w", err)
	}
	if len(cfg.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}

	return nil
}

// Admins returns the configured allow-list, normalized to lowercase.
func (c *Config) Admins() []string {
	parts := strings.Split(c.AdminEmails, ",")
	admins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			admins = append(admins, p)
		}
	}
	return admins
}
