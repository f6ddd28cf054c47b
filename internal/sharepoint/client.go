// Package sharepoint is the record store client: typed CRUD against the
// SharePoint list holding travel requests, with optimistic concurrency via
// the store's version tags (ETags).
package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/metrics"
	"github.com/rudhanster/travel-request-system/internal/platform/retry"
)

const (
	httpCallTimeout = 15 * time.Second
	acceptVerbose   = "application/json;odata=verbose"

	// listItemType is the store's content type descriptor for items of the
	// travel request list.
	listItemType = "SP.Data.TravelRequestsListItem"
)

// StatusError is a non-2xx response from the store.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store %s returned status %d", e.Op, e.StatusCode)
}

// Client performs authenticated list operations against one SharePoint
// site. All operations acquire a bearer token first and fail without any
// network call when acquisition fails.
type Client struct {
	siteURL    string
	listName   string
	scopes     []string
	httpClient *http.Client
	clock      clockwork.Clock
	retryPol   retry.Policy
}

var _ domain.RecordStore = (*Client)(nil)

func NewClient(siteURL, listName string, scopes []string, clock clockwork.Clock) *Client {
	return &Client{
		siteURL:  strings.TrimRight(siteURL, "/"),
		listName: listName,
		scopes:   scopes,
		httpClient: &http.Client{
			Timeout:   httpCallTimeout,
			Transport: newBreakerTransport("sharepoint", http.DefaultTransport),
		},
		clock: clock,
		retryPol: retry.Policy{
			MaxAttempts:     3,
			InitialBackoff:  250 * time.Millisecond,
			ThrottleBackoff: 2 * time.Second,
		},
	}
}

func (c *Client) itemsURL() string {
	return fmt.Sprintf("%s/_api/web/lists/getbytitle('%s')/items", c.siteURL, url.PathEscape(c.listName))
}

func (c *Client) itemURL(id int) string {
	return fmt.Sprintf("%s(%d)", c.itemsURL(), id)
}

func (c *Client) attachmentURL(id int, fileName string) string {
	escaped := strings.ReplaceAll(fileName, "'", "''")
	return fmt.Sprintf("%s(%d)/AttachmentFiles/add(FileName='%s')", c.itemsURL(), id, url.PathEscape(escaped))
}

// Create submits a new record. The title is generated client-side as a
// time-based unique code; the store assigns the id and version tag.
// Attachments are uploaded one by one after creation; a failed upload is
// reported in the result and never rolls the record back.
func (c *Client) Create(ctx context.Context, ts domain.TokenSource, req domain.NewRequest) (*domain.CreateResult, error) {
	token, err := ts.AccessToken(ctx, c.scopes)
	if err != nil {
		return nil, fmt.Errorf("acquire store token: %w", err)
	}

	title := fmt.Sprintf("TR-%d", c.clock.Now().UnixMilli())

	payload := map[string]any{
		"__metadata":       map[string]string{"type": listItemType},
		"Title":            title,
		"RequestedBy":      req.RequestedBy,
		"Department":       req.Department,
		"TravelType":       req.TravelType,
		"EmployeeID":       req.EmployeeID,
		"TravellerName":    req.TravellerName,
		"TravellerAddress": req.TravellerAddress,
		"ContactNumber":    req.ContactNumber,
		"TravelDate":       req.TravelDate,
		"PickupTime":       req.PickupTime,
		"FromLocationType": req.FromLocationType,
		"FromAddress":      req.FromAddress,
		"ToLocationType":   req.ToLocationType,
		"ToAddress":        req.ToAddress,
		"Status":           string(domain.StatusPending),
		"SubmittedByEmail": req.SubmittedByEmail,
		"SubmittedByName":  req.SubmittedByName,
	}

	start := c.clock.Now()
	var created struct {
		D struct {
			ID    int    `json:"ID"`
			Title string `json:"Title"`
		} `json:"d"`
	}
	err = c.doJSON(ctx, http.MethodPost, c.itemsURL(), token, payload, nil, &created, "create")
	c.observe("create", start, err)
	if err != nil {
		return nil, err
	}

	result := &domain.CreateResult{ID: created.D.ID, Title: created.D.Title}
	if result.Title == "" {
		result.Title = title
	}

	for _, att := range req.Attachments {
		if err := c.uploadAttachment(ctx, ts, result.ID, att); err != nil {
			result.AttachmentErrors = append(result.AttachmentErrors, domain.AttachmentError{
				FileName: att.FileName,
				Err:      err,
			})
		}
	}

	return result, nil
}

func (c *Client) uploadAttachment(ctx context.Context, ts domain.TokenSource, id int, att domain.AttachmentUpload) error {
	token, err := ts.AccessToken(ctx, c.scopes)
	if err != nil {
		return fmt.Errorf("acquire store token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.attachmentURL(id, att.FileName), bytes.NewReader(att.Content))
	if err != nil {
		return fmt.Errorf("build attachment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptVerbose)

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("upload_attachment", start, err)
		return fmt.Errorf("upload attachment %q: %w", att.FileName, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{Op: "upload_attachment", StatusCode: resp.StatusCode}
		c.observe("upload_attachment", start, err)
		return err
	}
	c.observe("upload_attachment", start, nil)
	return nil
}

// List returns all records matching the filter, newest first, each with its
// attachment list expanded. Reads are retried on transient store failures.
func (c *Client) List(ctx context.Context, ts domain.TokenSource, filter domain.Expr) ([]domain.TravelRequest, error) {
	token, err := ts.AccessToken(ctx, c.scopes)
	if err != nil {
		return nil, fmt.Errorf("acquire store token: %w", err)
	}

	q := url.Values{}
	q.Set("$select", "*,AttachmentFiles")
	q.Set("$expand", "AttachmentFiles")
	q.Set("$orderby", "Created desc")
	if !filter.Empty() {
		q.Set("$filter", filter.String())
	}
	endpoint := c.itemsURL() + "?" + q.Encode()

	start := c.clock.Now()
	items, err := retry.Do(ctx, c.retryPol, classifyStoreError, func() ([]domain.TravelRequest, error) {
		var listResp struct {
			D struct {
				Results []spItem `json:"results"`
			} `json:"d"`
		}
		if err := c.doJSON(ctx, http.MethodGet, endpoint, token, nil, nil, &listResp, "list"); err != nil {
			return nil, err
		}

		requests := make([]domain.TravelRequest, 0, len(listResp.D.Results))
		for _, item := range listResp.D.Results {
			requests = append(requests, item.toDomain())
		}
		return requests, nil
	})
	c.observe("list", start, err)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ItemVersion reads the record's current version tag and status. Required
// immediately before any conditional update.
func (c *Client) ItemVersion(ctx context.Context, ts domain.TokenSource, id int) (*domain.ItemVersion, error) {
	token, err := ts.AccessToken(ctx, c.scopes)
	if err != nil {
		return nil, fmt.Errorf("acquire store token: %w", err)
	}

	start := c.clock.Now()
	version, err := retry.Do(ctx, c.retryPol, classifyStoreError, func() (*domain.ItemVersion, error) {
		var itemResp struct {
			D spItem `json:"d"`
		}
		if err := c.doJSON(ctx, http.MethodGet, c.itemURL(id), token, nil, nil, &itemResp, "read_version"); err != nil {
			return nil, err
		}
		return &domain.ItemVersion{
			ETag:   itemResp.D.Metadata.ETag,
			Status: domain.Status(itemResp.D.Status),
		}, nil
	})
	c.observe("read_version", start, err)
	if err != nil {
		return nil, err
	}
	return version, nil
}

// Update performs the version read and the conditional write in one call,
// per the read-then-conditional-write pattern.
func (c *Client) Update(ctx context.Context, ts domain.TokenSource, id int, change domain.StatusChange, processedBy string) error {
	version, err := c.ItemVersion(ctx, ts, id)
	if err != nil {
		return err
	}
	return c.UpdateWithVersion(ctx, ts, id, version.ETag, change, processedBy)
}

// UpdateWithVersion submits a conditional MERGE carrying the given version
// tag, stamping ProcessedBy and ProcessedDate. A stale tag surfaces as
// domain.ErrConcurrentModification, never a generic failure.
func (c *Client) UpdateWithVersion(ctx context.Context, ts domain.TokenSource, id int, etag string, change domain.StatusChange, processedBy string) error {
	token, err := ts.AccessToken(ctx, c.scopes)
	if err != nil {
		return fmt.Errorf("acquire store token: %w", err)
	}

	payload := map[string]any{
		"__metadata":    map[string]string{"type": listItemType},
		"Status":        string(change.Status),
		"ProcessedBy":   processedBy,
		"ProcessedDate": c.clock.Now().UTC().Format(time.RFC3339),
	}
	if change.DeclineReason != "" {
		payload["DeclineReason"] = change.DeclineReason
	}

	headers := map[string]string{
		"IF-MATCH":      etag,
		"X-HTTP-Method": "MERGE",
	}

	start := c.clock.Now()
	err = c.doJSON(ctx, http.MethodPost, c.itemURL(id), token, payload, headers, nil, "update")
	c.observe("update", start, err)

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusPreconditionFailed:
			metrics.StoreConflictsTotal.Inc()
			return fmt.Errorf("update item %d: %w", id, domain.ErrConcurrentModification)
		case http.StatusNotFound:
			return fmt.Errorf("update item %d: %w", id, domain.ErrRequestNotFound)
		}
	}
	return err
}

// Ping probes the site for reachability. Any HTTP response counts: the
// probe runs without a token, so an auth rejection still proves the store
// is up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.siteURL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// doJSON executes one store call. A nil out means any 2xx body is
// discarded (MERGE responses are 204).
func (c *Client) doJSON(ctx context.Context, method, endpoint, token string, payload any, headers map[string]string, out any, op string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptVerbose)
	if payload != nil {
		req.Header.Set("Content-Type", acceptVerbose)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// classifyStoreError marks 5xx and transport errors as transient and 429 as
// throttled; everything else is permanent.
func classifyStoreError(err error) retry.Action {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return retry.Backoff
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	return retry.Retry
}

func (c *Client) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues(op, status).Inc()
	metrics.StoreOpDuration.WithLabelValues(op).Observe(c.clock.Since(start).Seconds())
}

// spItem is the store's verbose wire representation of a list item.
type spItem struct {
	Metadata struct {
		ETag string `json:"etag"`
	} `json:"__metadata"`

	ID               int    `json:"ID"`
	Title            string `json:"Title"`
	RequestedBy      string `json:"RequestedBy"`
	Department       string `json:"Department"`
	TravelType       string `json:"TravelType"`
	EmployeeID       string `json:"EmployeeID"`
	TravellerName    string `json:"TravellerName"`
	TravellerAddress string `json:"TravellerAddress"`
	ContactNumber    string `json:"ContactNumber"`
	TravelDate       string `json:"TravelDate"`
	PickupTime       string `json:"PickupTime"`
	FromLocationType string `json:"FromLocationType"`
	FromAddress      string `json:"FromAddress"`
	ToLocationType   string `json:"ToLocationType"`
	ToAddress        string `json:"ToAddress"`
	Status           string `json:"Status"`
	SubmittedByEmail string `json:"SubmittedByEmail"`
	SubmittedByName  string `json:"SubmittedByName"`
	ProcessedBy      string `json:"ProcessedBy"`
	ProcessedDate    string `json:"ProcessedDate"`
	DeclineReason    string `json:"DeclineReason"`
	Created          string `json:"Created"`

	AttachmentFiles struct {
		Results []struct {
			FileName          string `json:"FileName"`
			ServerRelativeURL string `json:"ServerRelativeUrl"`
		} `json:"results"`
	} `json:"AttachmentFiles"`
}

func (item spItem) toDomain() domain.TravelRequest {
	req := domain.TravelRequest{
		ID:               item.ID,
		Title:            item.Title,
		RequestedBy:      item.RequestedBy,
		Department:       item.Department,
		TravelType:       item.TravelType,
		EmployeeID:       item.EmployeeID,
		TravellerName:    item.TravellerName,
		TravellerAddress: item.TravellerAddress,
		ContactNumber:    item.ContactNumber,
		TravelDate:       item.TravelDate,
		PickupTime:       item.PickupTime,
		FromLocationType: item.FromLocationType,
		FromAddress:      item.FromAddress,
		ToLocationType:   item.ToLocationType,
		ToAddress:        item.ToAddress,
		Status:           domain.Status(item.Status),
		SubmittedByEmail: item.SubmittedByEmail,
		SubmittedByName:  item.SubmittedByName,
		ProcessedBy:      item.ProcessedBy,
		DeclineReason:    item.DeclineReason,
		VersionTag:       item.Metadata.ETag,
	}

	if t, err := time.Parse(time.RFC3339, item.ProcessedDate); err == nil {
		req.ProcessedDate = t
	}
	if t, err := time.Parse(time.RFC3339, item.Created); err == nil {
		req.Created = t
	}

	for _, f := range item.AttachmentFiles.Results {
		req.Attachments = append(req.Attachments, domain.AttachmentFile{
			FileName:          f.FileName,
			ServerRelativeURL: f.ServerRelativeURL,
		})
	}

	return req
}
