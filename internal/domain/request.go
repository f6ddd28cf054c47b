package domain

import (
	"context"
	"time"
)

// Status is the lifecycle state of a travel request. The only defined
// transitions are Pending→Approved and Pending→Declined; both targets
// are terminal.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusDeclined Status = "Declined"
)

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// TravelRequest is a single request record as held by the record store.
// ID, Title, and VersionTag are store- or client-assigned at creation and
// never mutated afterwards.
type TravelRequest struct {
	ID    int
	Title string

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

	Status Status

	SubmittedByEmail string
	SubmittedByName  string

	// Set only on the first transition out of Pending.
	ProcessedBy   string
	ProcessedDate time.Time

	// Present iff Status is Declined.
	DeclineReason string

	Attachments []AttachmentFile

	// VersionTag is the store's opaque concurrency token (ETag). It changes
	// on every write and must match on conditional updates.
	VersionTag string

	Created time.Time
}

// AttachmentFile is an attachment as listed by the store.
type AttachmentFile struct {
	FileName          string
	ServerRelativeURL string
}

// AttachmentUpload is a file to attach to a newly created request.
type AttachmentUpload struct {
	FileName string
	Content  []byte
}

// NewRequest holds all caller-supplied fields for record creation. The
// store client assigns the title and the store assigns id and version tag.
type NewRequest struct {
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

	SubmittedByEmail string
	SubmittedByName  string

	Attachments []AttachmentUpload
}

// AttachmentError records a failed attachment upload. A failed upload never
// rolls back the created record; the gap is reported, not masked.
type AttachmentError struct {
	FileName string
	Err      error
}

// CreateResult is the outcome of a record creation.
type CreateResult struct {
	ID               int
	Title            string
	AttachmentErrors []AttachmentError
}

// ItemVersion is the result of a version-tag read: the opaque tag required
// for a conditional write, plus the record's current status so callers can
// reject transitions out of terminal states before writing.
type ItemVersion struct {
	ETag   string
	Status Status
}

// StatusChange is the field set a conditional update may write. The store
// client stamps ProcessedBy/ProcessedDate itself.
type StatusChange struct {
	Status        Status
	DeclineReason string
}

// RecordStore is the typed CRUD port over the remote list store. Every
// operation acquires a bearer token from ts first and fails without any
// network call if acquisition fails.
type RecordStore interface {
	Create(ctx context.Context, ts TokenSource, req NewRequest) (*CreateResult, error)
	List(ctx context.Context, ts TokenSource, filter Expr) ([]TravelRequest, error)
	ItemVersion(ctx context.Context, ts TokenSource, id int) (*ItemVersion, error)
	Update(ctx context.Context, ts TokenSource, id int, change StatusChange, processedBy string) error
	UpdateWithVersion(ctx context.Context, ts TokenSource, id int, etag string, change StatusChange, processedBy string) error
}

// MailDraft is the payload handed to the mail service. The system only
// creates drafts; it never sends mail.
type MailDraft struct {
	Subject   string
	HTMLBody  string
	Recipient string
}

// MailDraftResult identifies a created draft and the compose deep link
// handed off to the user's mail client.
type MailDraftResult struct {
	ID         string
	ComposeURL string
}

// MailDrafter creates a mail draft via the external mail service.
type MailDrafter interface {
	CreateDraft(ctx context.Context, ts TokenSource, draft MailDraft) (*MailDraftResult, error)
}
