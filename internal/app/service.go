package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/metrics"
	apperrors "github.com/rudhanster/travel-request-system/internal/platform/errors"
)

// Session is the slice of the identity session the application layer
// needs: a token source plus the authenticated principal.
type Session interface {
	domain.TokenSource
	Identity() domain.Identity
}

// Service orchestrates the travel request lifecycle.
type Service struct {
	store domain.RecordStore
	mail  domain.MailDrafter
	clock clockwork.Clock

	transportEmail string
	subjectPrefix  string
}

func NewService(store domain.RecordStore, mail domain.MailDrafter, clock clockwork.Clock, transportEmail, subjectPrefix string) *Service {
	return &Service{
		store:          store,
		mail:           mail,
		clock:          clock,
		transportEmail: transportEmail,
		subjectPrefix:  subjectPrefix,
	}
}

// SubmitForm carries the raw form field values supplied by the
// presentation layer.
type SubmitForm struct {
	RequestedBy      string
	Department       string
	TravelType       string
	EmployeeID       string
	TravellerName    string
	TravellerAddress string
	ContactNumber    string
	TravelDate       string
	PickupTime       string
	FromLocationType string
	FromAddress      string
	ToLocationType   string
	ToAddress        string

	Attachments []domain.AttachmentUpload
}

// requiredFields lists the form fields that must be non-empty before any
// store call is attempted. EmployeeID is deliberately optional.
func (f *SubmitForm) requiredFields() []struct{ name, value string } {
	return []struct{ name, value string }{
		{"requestedBy", f.RequestedBy},
		{"department", f.Department},
		{"travelType", f.TravelType},
		{"travellerName", f.TravellerName},
		{"travellerAddress", f.TravellerAddress},
		{"contactNumber", f.ContactNumber},
		{"travelDate", f.TravelDate},
		{"pickupTime", f.PickupTime},
		{"fromLocationType", f.FromLocationType},
		{"fromAddress", f.FromAddress},
		{"toLocationType", f.ToLocationType},
		{"toAddress", f.ToAddress},
	}
}

// Submit validates the form, stamps the submitter from the session
// identity, and creates the record with status Pending.
func (s *Service) Submit(ctx context.Context, sess Session, form SubmitForm) (*domain.CreateResult, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	for _, field := range form.requiredFields() {
		if strings.TrimSpace(field.value) == "" {
			metrics.RequestsSubmittedTotal.WithLabelValues("validation_error").Inc()
			return nil, apperrors.ValidationError(field.name + " is required")
		}
	}

	identity := sess.Identity()
	result, err := s.store.Create(ctx, sess, domain.NewRequest{
		RequestedBy:      form.RequestedBy,
		Department:       form.Department,
		TravelType:       form.TravelType,
		EmployeeID:       form.EmployeeID,
		TravellerName:    form.TravellerName,
		TravellerAddress: form.TravellerAddress,
		ContactNumber:    form.ContactNumber,
		TravelDate:       form.TravelDate,
		PickupTime:       form.PickupTime,
		FromLocationType: form.FromLocationType,
		FromAddress:      form.FromAddress,
		ToLocationType:   form.ToLocationType,
		ToAddress:        form.ToAddress,
		SubmittedByEmail: identity.UniqueName,
		SubmittedByName:  identity.DisplayName,
		Attachments:      form.Attachments,
	})
	if err != nil {
		metrics.RequestsSubmittedTotal.WithLabelValues("error").Inc()
		return nil, mapStoreError("failed to submit travel request", err)
	}

	metrics.RequestsSubmittedTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// Approve transitions a Pending record to Approved. Terminal records are
// hard-rejected; a racing transition surfaces as a conflict through the
// store's version check.
func (s *Service) Approve(ctx context.Context, sess Session, id int) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	err := s.transition(ctx, sess, id, domain.StatusChange{Status: domain.StatusApproved})
	s.countTransition("Approved", err)
	return err
}

// Decline transitions a Pending record to Declined with the given reason.
// An empty reason fails validation before any store interaction.
func (s *Service) Decline(ctx context.Context, sess Session, id int, reason string) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return apperrors.ValidationError("decline reason is required")
	}
	err := s.transition(ctx, sess, id, domain.StatusChange{
		Status:        domain.StatusDeclined,
		DeclineReason: reason,
	})
	s.countTransition("Declined", err)
	return err
}

func (s *Service) transition(ctx context.Context, sess Session, id int, change domain.StatusChange) error {
	version, err := s.store.ItemVersion(ctx, sess, id)
	if err != nil {
		return mapStoreError("failed to read record version", err)
	}

	if version.Status.Terminal() {
		return conflictError(
			fmt.Sprintf("request already %s", strings.ToLower(string(version.Status))),
			domain.ErrAlreadyProcessed,
		).WithField("id", id)
	}

	err = s.store.UpdateWithVersion(ctx, sess, id, version.ETag, change, sess.Identity().DisplayName)
	if err != nil {
		return mapStoreError("failed to update record", err)
	}
	return nil
}

func (s *Service) countTransition(target string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RequestTransitionsTotal.WithLabelValues(target, status).Inc()
}

// FetchPending returns Pending requests, optionally narrowed to one travel
// date, newest first.
func (s *Service) FetchPending(ctx context.Context, sess Session, travelDate string) ([]domain.TravelRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}

	filter := domain.Eq("Status", domain.StatusPending)
	if travelDate != "" {
		filter = domain.And(filter, domain.Eq("TravelDate", travelDate))
	}
	return s.list(ctx, sess, filter)
}

// ProcessedFilter narrows the processed-requests view.
type ProcessedFilter struct {
	Status domain.Status // optional: Approved or Declined
	From   string        // optional: processed on or after, ISO date
	To     string        // optional: processed on or before, ISO date
}

// FetchProcessed returns requests that left Pending, newest first.
func (s *Service) FetchProcessed(ctx context.Context, sess Session, f ProcessedFilter) ([]domain.TravelRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}

	var statusTerm domain.Expr
	if f.Status != "" {
		statusTerm = domain.Eq("Status", f.Status)
	} else {
		statusTerm = domain.Or(
			domain.Eq("Status", domain.StatusApproved),
			domain.Eq("Status", domain.StatusDeclined),
		)
	}

	filter := statusTerm
	if f.From != "" {
		filter = domain.And(filter, domain.Ge("ProcessedDate", f.From))
	}
	if f.To != "" {
		filter = domain.And(filter, domain.Le("ProcessedDate", f.To))
	}
	return s.list(ctx, sess, filter)
}

// FetchMine returns the session principal's own submissions, newest first.
func (s *Service) FetchMine(ctx context.Context, sess Session) ([]domain.TravelRequest, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return s.list(ctx, sess, domain.Eq("SubmittedByEmail", sess.Identity().UniqueName))
}

// FetchByID returns one request.
func (s *Service) FetchByID(ctx context.Context, sess Session, id int) (*domain.TravelRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}

	items, err := s.list(ctx, sess, domain.Eq("ID", id))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.NotFoundError("travel request not found").WithField("id", id)
	}
	return &items[0], nil
}

func (s *Service) list(ctx context.Context, sess Session, filter domain.Expr) ([]domain.TravelRequest, error) {
	items, err := s.store.List(ctx, sess, filter)
	if err != nil {
		return nil, mapStoreError("failed to load travel requests", err)
	}
	return items, nil
}

func requireSession(sess Session) error {
	if sess == nil {
		return apperrors.UnauthorizedError("authentication required", domain.ErrNotAuthenticated)
	}
	return nil
}

func requireAdmin(sess Session) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	if !sess.Identity().IsAdmin {
		return apperrors.UnauthorizedError("admin access required", nil)
	}
	return nil
}

// mapStoreError translates store and token errors into the shared
// taxonomy, keeping the cause chain intact so sentinel checks still work.
func mapStoreError(message string, err error) error {
	switch {
	case errors.Is(err, domain.ErrConcurrentModification):
		return conflictError("record was modified concurrently, refresh and retry", err)
	case errors.Is(err, domain.ErrRequestNotFound):
		nf := apperrors.NotFoundError("travel request not found")
		nf.Cause = err
		return nf
	case errors.Is(err, domain.ErrTokenUnavailable), errors.Is(err, domain.ErrNotAuthenticated):
		return apperrors.UnauthorizedError("authentication required", err)
	default:
		return apperrors.ExternalError(message, err)
	}
}

func conflictError(message string, cause error) *apperrors.Error {
	err := apperrors.ConflictError(message)
	err.Cause = cause
	return err
}
