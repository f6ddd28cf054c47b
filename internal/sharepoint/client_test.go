package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/platform/retry"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) AccessToken(ctx context.Context, scopes []string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

// fakeStore is a minimal in-memory stand-in for the list endpoints the
// client talks to.
type fakeStore struct {
	t *testing.T

	createStatus  int
	createdID     int
	lastCreate    map[string]any
	lastFilter    string
	lastOrderBy   string
	listItems     []map[string]any
	itemETag      string
	itemStatus    string
	updateStatus  int
	lastUpdate    map[string]any
	lastIfMatch   string
	lastMethodHdr string
	attachStatus  map[string]int
	attachments   []string
	requests      int
	listFailures  int
}

func newFakeStore(t *testing.T) *fakeStore {
	return &fakeStore{
		t:            t,
		createStatus: http.StatusCreated,
		createdID:    101,
		itemETag:     `"3"`,
		itemStatus:   "Pending",
		updateStatus: http.StatusNoContent,
		attachStatus: map[string]int{},
	}
}

func (f *fakeStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		path := r.URL.Path

		if r.Header.Get("Authorization") != "Bearer store-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case strings.Contains(path, "/AttachmentFiles/add"):
			name := path[strings.Index(path, "FileName='")+len("FileName='"):]
			name = strings.TrimSuffix(name, "')")
			if code, ok := f.attachStatus[name]; ok {
				w.WriteHeader(code)
				return
			}
			f.attachments = append(f.attachments, name)
			_, _ = w.Write([]byte(`{}`))

		case r.Method == http.MethodPost && strings.HasSuffix(path, "/items"):
			body, _ := io.ReadAll(r.Body)
			f.lastCreate = map[string]any{}
			require.NoError(f.t, json.Unmarshal(body, &f.lastCreate))
			if f.createStatus >= 300 {
				w.WriteHeader(f.createStatus)
				return
			}
			w.WriteHeader(f.createStatus)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"d": map[string]any{"ID": f.createdID, "Title": f.lastCreate["Title"]},
			})

		case r.Method == http.MethodGet && strings.HasSuffix(path, "/items"):
			if f.listFailures > 0 {
				f.listFailures--
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			f.lastFilter = r.URL.Query().Get("$filter")
			f.lastOrderBy = r.URL.Query().Get("$orderby")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"d": map[string]any{"results": f.listItems},
			})

		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"d": map[string]any{
					"__metadata": map[string]string{"etag": f.itemETag},
					"Status":     f.itemStatus,
				},
			})

		case r.Method == http.MethodPost:
			f.lastIfMatch = r.Header.Get("IF-MATCH")
			f.lastMethodHdr = r.Header.Get("X-HTTP-Method")
			body, _ := io.ReadAll(r.Body)
			f.lastUpdate = map[string]any{}
			require.NoError(f.t, json.Unmarshal(body, &f.lastUpdate))
			w.WriteHeader(f.updateStatus)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestClient(t *testing.T, store *fakeStore, clock clockwork.Clock) *Client {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "TravelRequests", []string{"store/.default"}, clock)
}

func pendingItem(id int, title string) map[string]any {
	return map[string]any{
		"__metadata":       map[string]string{"etag": fmt.Sprintf(`"%d"`, id)},
		"ID":               id,
		"Title":            title,
		"RequestedBy":      "Asha Nair",
		"Department":       "Physics",
		"TravellerName":    "Ravi Kumar",
		"Status":           "Pending",
		"TravelDate":       "2024-06-01",
		"PickupTime":       "09:30",
		"Created":          "2024-05-20T08:00:00Z",
		"AttachmentFiles":  map[string]any{"results": []any{}},
		"SubmittedByEmail": "asha.nair@example.edu",
	}
}

func TestCreate_SubmitsTypedPayload(t *testing.T) {
	store := newFakeStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC))
	client := newTestClient(t, store, clock)
	tokens := &staticTokens{token: "store-token"}

	result, err := client.Create(context.Background(), tokens, domain.NewRequest{
		RequestedBy:      "Asha Nair",
		Department:       "Physics",
		TravelType:       "Official",
		TravellerName:    "Ravi Kumar",
		TravellerAddress: "12 Lake View",
		ContactNumber:    "9876543210",
		TravelDate:       "2024-06-01",
		PickupTime:       "09:30",
		FromLocationType: "Campus",
		FromAddress:      "Main Gate",
		ToLocationType:   "Airport",
		ToAddress:        "Terminal 1",
		SubmittedByEmail: "asha.nair@example.edu",
		SubmittedByName:  "Asha Nair",
	})
	require.NoError(t, err)

	assert.Equal(t, 101, result.ID)
	assert.Empty(t, result.AttachmentErrors)

	wantTitle := fmt.Sprintf("TR-%d", clock.Now().UnixMilli())
	assert.Equal(t, wantTitle, result.Title)
	assert.Equal(t, wantTitle, store.lastCreate["Title"])
	assert.Equal(t, "Pending", store.lastCreate["Status"])
	assert.Equal(t, "asha.nair@example.edu", store.lastCreate["SubmittedByEmail"])

	meta := store.lastCreate["__metadata"].(map[string]any)
	assert.Equal(t, "SP.Data.TravelRequestsListItem", meta["type"])
}

func TestCreate_TokenFailureSkipsNetwork(t *testing.T) {
	store := newFakeStore(t)
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{err: domain.ErrTokenUnavailable}

	_, err := client.Create(context.Background(), tokens, domain.NewRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTokenUnavailable)
	assert.Zero(t, store.requests)
}

func TestCreate_UploadsAttachments(t *testing.T) {
	store := newFakeStore(t)
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	result, err := client.Create(context.Background(), tokens, domain.NewRequest{
		Attachments: []domain.AttachmentUpload{
			{FileName: "ticket.pdf", Content: []byte("pdf-bytes")},
			{FileName: "visa.pdf", Content: []byte("more-bytes")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ticket.pdf", "visa.pdf"}, store.attachments)
	assert.Empty(t, result.AttachmentErrors)
}

func TestCreate_AttachmentFailureDoesNotRollBack(t *testing.T) {
	store := newFakeStore(t)
	store.attachStatus["broken.pdf"] = http.StatusInternalServerError
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	result, err := client.Create(context.Background(), tokens, domain.NewRequest{
		Attachments: []domain.AttachmentUpload{
			{FileName: "broken.pdf", Content: []byte("x")},
			{FileName: "fine.pdf", Content: []byte("y")},
		},
	})
	require.NoError(t, err, "attachment failure must not fail record creation")

	assert.Equal(t, 101, result.ID)
	require.Len(t, result.AttachmentErrors, 1)
	assert.Equal(t, "broken.pdf", result.AttachmentErrors[0].FileName)
	assert.Equal(t, []string{"fine.pdf"}, store.attachments)
}

func TestList_BuildsQueryAndParsesItems(t *testing.T) {
	store := newFakeStore(t)
	store.listItems = []map[string]any{
		pendingItem(103, "TR-3"),
		pendingItem(102, "TR-2"),
		pendingItem(101, "TR-1"),
	}
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	items, err := client.List(context.Background(), tokens, domain.Eq("Status", domain.StatusPending))
	require.NoError(t, err)

	assert.Equal(t, "Status eq 'Pending'", store.lastFilter)
	assert.Equal(t, "Created desc", store.lastOrderBy)

	require.Len(t, items, 3)
	assert.Equal(t, "TR-3", items[0].Title)
	assert.Equal(t, "TR-1", items[2].Title)
	assert.Equal(t, domain.StatusPending, items[0].Status)
	assert.Equal(t, `"103"`, items[0].VersionTag)
	assert.Equal(t, "Ravi Kumar", items[0].TravellerName)
	assert.Equal(t, time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC), items[0].Created)
}

func TestList_RetriesTransientFailure(t *testing.T) {
	store := newFakeStore(t)
	store.listFailures = 1
	store.listItems = []map[string]any{pendingItem(101, "TR-1")}
	client := newTestClient(t, store, clockwork.NewFakeClock())
	client.retryPol.InitialBackoff = time.Millisecond
	tokens := &staticTokens{token: "store-token"}

	items, err := client.List(context.Background(), tokens, domain.Expr{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestItemVersion_ReturnsETagAndStatus(t *testing.T) {
	store := newFakeStore(t)
	store.itemETag = `"7"`
	store.itemStatus = "Approved"
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	version, err := client.ItemVersion(context.Background(), tokens, 101)
	require.NoError(t, err)

	assert.Equal(t, `"7"`, version.ETag)
	assert.Equal(t, domain.StatusApproved, version.Status)
}

func TestUpdate_ConditionalMergeWithStamping(t *testing.T) {
	store := newFakeStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 21, 14, 0, 0, 0, time.UTC))
	client := newTestClient(t, store, clock)
	tokens := &staticTokens{token: "store-token"}

	err := client.Update(context.Background(), tokens, 101, domain.StatusChange{
		Status:        domain.StatusDeclined,
		DeclineReason: "No transport available",
	}, "Admin User")
	require.NoError(t, err)

	assert.Equal(t, `"3"`, store.lastIfMatch)
	assert.Equal(t, "MERGE", store.lastMethodHdr)
	assert.Equal(t, "Declined", store.lastUpdate["Status"])
	assert.Equal(t, "No transport available", store.lastUpdate["DeclineReason"])
	assert.Equal(t, "Admin User", store.lastUpdate["ProcessedBy"])
	assert.Equal(t, "2024-05-21T14:00:00Z", store.lastUpdate["ProcessedDate"])
}

func TestUpdate_OmitsDeclineReasonWhenApproving(t *testing.T) {
	store := newFakeStore(t)
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	err := client.Update(context.Background(), tokens, 101, domain.StatusChange{Status: domain.StatusApproved}, "Admin User")
	require.NoError(t, err)

	assert.Equal(t, "Approved", store.lastUpdate["Status"])
	_, hasReason := store.lastUpdate["DeclineReason"]
	assert.False(t, hasReason)
}

func TestUpdateWithVersion_StaleTagIsConcurrentModification(t *testing.T) {
	store := newFakeStore(t)
	store.updateStatus = http.StatusPreconditionFailed
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	err := client.UpdateWithVersion(context.Background(), tokens, 101, `"stale"`, domain.StatusChange{Status: domain.StatusApproved}, "Admin User")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestUpdateWithVersion_MissingRecord(t *testing.T) {
	store := newFakeStore(t)
	store.updateStatus = http.StatusNotFound
	client := newTestClient(t, store, clockwork.NewFakeClock())
	tokens := &staticTokens{token: "store-token"}

	err := client.UpdateWithVersion(context.Background(), tokens, 999, `"1"`, domain.StatusChange{Status: domain.StatusApproved}, "Admin User")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestClassifyStoreError(t *testing.T) {
	assert.Equal(t, retry.Retry, classifyStoreError(&StatusError{StatusCode: 500}))
	assert.Equal(t, retry.Backoff, classifyStoreError(&StatusError{StatusCode: 429}))
	assert.Equal(t, retry.Stop, classifyStoreError(&StatusError{StatusCode: 403}))
	assert.Equal(t, retry.Retry, classifyStoreError(errors.New("connection reset")))
}
