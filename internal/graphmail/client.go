// Package graphmail creates transport notification drafts through the
// Microsoft Graph mail API. The system never sends mail: it creates a
// draft and hands off a compose deep link for the user's mail client.
package graphmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/metrics"
)

const (
	httpCallTimeout = 15 * time.Second
	composeBaseURL  = "https://outlook.office.com/mail/deeplink/compose/"
)

type Client struct {
	baseURL    string
	scopes     []string
	httpClient *http.Client
}

var _ domain.MailDrafter = (*Client)(nil)

func NewClient(baseURL string, scopes []string) *Client {
	return &Client{
		baseURL:    baseURL,
		scopes:     scopes,
		httpClient: &http.Client{Timeout: httpCallTimeout},
	}
}

// CreateDraft saves a draft message and returns its identifier together
// with the Outlook compose deep link.
func (c *Client) CreateDraft(ctx context.Context, ts domain.TokenSource, draft domain.MailDraft) (*domain.MailDraftResult, error) {
	token, err := ts.AccessToken(ctx, c.scopes)
	if err != nil {
		return nil, fmt.Errorf("acquire mail token: %w", err)
	}

	payload := map[string]any{
		"subject": draft.Subject,
		"body": map[string]string{
			"contentType": "HTML",
			"content":     draft.HTMLBody,
		},
		"toRecipients": []map[string]any{
			{"emailAddress": map[string]string{"address": draft.Recipient}},
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode draft payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1.0/me/messages", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build draft request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.MailDraftsCreatedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("execute draft request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		metrics.MailDraftsCreatedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("mail service returned status %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		metrics.MailDraftsCreatedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode draft response: %w", err)
	}
	if created.ID == "" {
		metrics.MailDraftsCreatedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("mail service returned no draft id")
	}

	metrics.MailDraftsCreatedTotal.WithLabelValues("ok").Inc()
	return &domain.MailDraftResult{
		ID:         created.ID,
		ComposeURL: composeBaseURL + created.ID,
	}, nil
}
