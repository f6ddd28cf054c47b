package app

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/metrics"
	apperrors "github.com/rudhanster/travel-request-system/internal/platform/errors"
)

//go:embed templates/transport_email.html
var templateFS embed.FS

var transportTemplate = template.Must(template.ParseFS(templateFS, "templates/transport_email.html"))

// DispatchState is the phase the batch dispatch reached. It only ever
// advances; a later phase implies every earlier phase completed.
type DispatchState string

const (
	// StateDone means the draft exists and every selected record is Approved.
	StateDone DispatchState = "Done"
	// StatePartiallyApproved means the draft exists but one or more
	// approvals failed. The draft is never recalled.
	StatePartiallyApproved DispatchState = "PartiallyApproved"
	// StateFailed means the draft could not be created; no record was touched.
	StateFailed DispatchState = "Failed"
)

// DispatchFailure records one approval that did not go through.
type DispatchFailure struct {
	ID  int    `json:"id"`
	Err string `json:"error"`
}

// DispatchResult is the outcome of a batch dispatch. Every selected id
// ends up in Approved or Failed. Draft is nil and Error is set only when
// State is Failed.
type DispatchResult struct {
	State    DispatchState           `json:"state"`
	Draft    *domain.MailDraftResult `json:"draft,omitempty"`
	Approved []int                   `json:"approved"`
	Failed   []DispatchFailure       `json:"failed,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Dispatch creates one transport mail draft covering the selected requests
// that are still pending, then approves each of them best-effort. The draft
// is created before any approval so a partial failure leaves a mail trail
// matching at least the approved subset. Selected ids that are missing or
// already processed are reported per id, never silently dropped.
func (s *Service) Dispatch(ctx context.Context, sess Session, ids []int) (*DispatchResult, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperrors.ValidationError("at least one request must be selected")
	}

	items, err := s.store.List(ctx, sess, domain.In("ID", ids))
	if err != nil {
		return nil, mapStoreError("failed to load selected requests", err)
	}

	result := &DispatchResult{Approved: []int{}}
	pending := partitionSelection(ids, items, result)
	if len(pending) == 0 {
		return nil, apperrors.ValidationError("none of the selected requests is pending")
	}

	body, err := s.renderTransportBody(pending)
	if err != nil {
		return nil, apperrors.InternalError("failed to render transport email", err)
	}

	draft, err := s.mail.CreateDraft(ctx, sess, domain.MailDraft{
		Subject:   s.subjectPrefix + s.clock.Now().Format("1/2/2006"),
		HTMLBody:  body,
		Recipient: s.transportEmail,
	})
	if err != nil {
		metrics.BatchDispatchesTotal.WithLabelValues("failed").Inc()
		mapped := mapStoreError("failed to create transport mail draft", err)
		structured := apperrors.AsStructuredError(mapped)
		// Authentication failures surface as errors so the boundary can
		// challenge; any other draft failure is a batch outcome with zero
		// records touched.
		if structured.Type == apperrors.TypeUnauthorized {
			return nil, mapped
		}
		result.State = StateFailed
		result.Error = structured.Message
		return result, nil
	}

	result.Draft = draft
	s.approveBatch(ctx, sess, pending, result)

	metrics.BatchDispatchSize.Observe(float64(len(pending)))
	if len(result.Failed) > 0 {
		result.State = StatePartiallyApproved
		metrics.BatchDispatchesTotal.WithLabelValues("partial").Inc()
	} else {
		result.State = StateDone
		metrics.BatchDispatchesTotal.WithLabelValues("ok").Inc()
	}
	return result, nil
}

// RetryApprovals re-runs the approval phase for requests left unapproved
// by an earlier dispatch. It never composes or sends another draft; draft
// identifies the one already created.
func (s *Service) RetryApprovals(ctx context.Context, sess Session, draft *domain.MailDraftResult, ids []int) (*DispatchResult, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if draft == nil || draft.ID == "" {
		return nil, apperrors.ValidationError("a draft from a previous dispatch is required")
	}
	if len(ids) == 0 {
		return nil, apperrors.ValidationError("at least one request must be selected")
	}

	items, err := s.store.List(ctx, sess, domain.In("ID", ids))
	if err != nil {
		return nil, mapStoreError("failed to load selected requests", err)
	}

	result := &DispatchResult{Draft: draft, Approved: []int{}}
	pending := partitionSelection(ids, items, result)
	s.approveBatch(ctx, sess, pending, result)

	if len(result.Failed) > 0 {
		result.State = StatePartiallyApproved
	} else {
		result.State = StateDone
	}
	return result, nil
}

// partitionSelection matches the fetched records against the requested
// ids. Records still Pending go forward; every other selected id is
// recorded as a failure so the accounting covers the full selection.
func partitionSelection(ids []int, items []domain.TravelRequest, result *DispatchResult) []domain.TravelRequest {
	byID := make(map[int]domain.TravelRequest, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	pending := make([]domain.TravelRequest, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		switch {
		case !ok:
			result.Failed = append(result.Failed, DispatchFailure{ID: id, Err: "travel request not found"})
		case item.Status.Terminal():
			result.Failed = append(result.Failed, DispatchFailure{
				ID:  id,
				Err: fmt.Sprintf("request already %s", strings.ToLower(string(item.Status))),
			})
		default:
			pending = append(pending, item)
		}
	}
	return pending
}

// approveBatch approves each item sequentially, recording per-item
// outcomes. One failure never stops the rest of the batch.
func (s *Service) approveBatch(ctx context.Context, sess Session, items []domain.TravelRequest, result *DispatchResult) {
	processedBy := sess.Identity().DisplayName
	for _, item := range items {
		err := s.store.UpdateWithVersion(ctx, sess, item.ID, item.VersionTag,
			domain.StatusChange{Status: domain.StatusApproved}, processedBy)
		if err != nil {
			result.Failed = append(result.Failed, DispatchFailure{
				ID:  item.ID,
				Err: dispatchFailureMessage(err),
			})
			continue
		}
		result.Approved = append(result.Approved, item.ID)
	}
}

func dispatchFailureMessage(err error) string {
	structured := apperrors.AsStructuredError(mapStoreError("approval failed", err))
	return structured.Message
}

type transportRow struct {
	ID            int
	TravellerName string
	ContactNumber string
	TravelDate    string
	PickupTime    string
	From          string
	To            string
	Department    string
}

func (s *Service) renderTransportBody(items []domain.TravelRequest) (string, error) {
	rows := make([]transportRow, len(items))
	for i, item := range items {
		rows[i] = transportRow{
			ID:            item.ID,
			TravellerName: item.TravellerName,
			ContactNumber: item.ContactNumber,
			TravelDate:    item.TravelDate,
			PickupTime:    item.PickupTime,
			From:          formatLocation(item.FromLocationType, item.FromAddress),
			To:            formatLocation(item.ToLocationType, item.ToAddress),
			Department:    item.Department,
		}
	}

	var buf strings.Builder
	err := transportTemplate.Execute(&buf, struct {
		Rows  []transportRow
		Total int
	}{Rows: rows, Total: len(rows)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatLocation(locationType, address string) string {
	if locationType == "" {
		return address
	}
	return fmt.Sprintf("%s: %s", locationType, address)
}
