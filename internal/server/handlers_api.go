package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rudhanster/travel-request-system/internal/app"
	"github.com/rudhanster/travel-request-system/internal/domain"
	apperrors "github.com/rudhanster/travel-request-system/internal/platform/errors"
)

// maxAttachmentSize bounds a single uploaded attachment.
const maxAttachmentSize = 10 << 20

func (s *Server) handleSubmit(c echo.Context) error {
	form := app.SubmitForm{
		RequestedBy:      c.FormValue("requestedBy"),
		Department:       c.FormValue("department"),
		TravelType:       c.FormValue("travelType"),
		EmployeeID:       c.FormValue("employeeId"),
		TravellerName:    c.FormValue("travellerName"),
		TravellerAddress: c.FormValue("travellerAddress"),
		ContactNumber:    c.FormValue("contactNumber"),
		TravelDate:       c.FormValue("travelDate"),
		PickupTime:       c.FormValue("pickupTime"),
		FromLocationType: c.FormValue("fromLocationType"),
		FromAddress:      c.FormValue("fromAddress"),
		ToLocationType:   c.FormValue("toLocationType"),
		ToAddress:        c.FormValue("toAddress"),
	}

	attachments, err := readAttachments(c)
	if err != nil {
		return err
	}
	form.Attachments = attachments

	result, err := s.app.Submit(c.Request().Context(), currentSession(c), form)
	if err != nil {
		return withAuthChallenge(err)
	}

	response := map[string]any{
		"id":    result.ID,
		"title": result.Title,
	}
	if len(result.AttachmentErrors) > 0 {
		failed := make([]map[string]string, len(result.AttachmentErrors))
		for i, ae := range result.AttachmentErrors {
			failed[i] = map[string]string{
				"file_name": ae.FileName,
				"error":     ae.Err.Error(),
			}
		}
		response["attachment_errors"] = failed
	}

	if err := c.JSON(http.StatusCreated, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func readAttachments(c echo.Context) ([]domain.AttachmentUpload, error) {
	multipartForm, err := c.MultipartForm()
	if err != nil {
		// Plain form posts carry no attachments.
		return nil, nil
	}

	files := multipartForm.File["attachments"]
	attachments := make([]domain.AttachmentUpload, 0, len(files))
	for _, fh := range files {
		content, err := readAttachment(fh)
		if err != nil {
			return nil, apperrors.ValidationError("failed to read attachment").
				WithField("file_name", fh.Filename)
		}
		attachments = append(attachments, domain.AttachmentUpload{
			FileName: fh.Filename,
			Content:  content,
		})
	}
	return attachments, nil
}

func readAttachment(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxAttachmentSize {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxAttachmentSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxAttachmentSize))
}

func (s *Server) handleMine(c echo.Context) error {
	items, err := s.app.FetchMine(c.Request().Context(), currentSession(c))
	if err != nil {
		return withAuthChallenge(err)
	}
	return respondRequests(c, items)
}

func (s *Server) handlePending(c echo.Context) error {
	items, err := s.app.FetchPending(c.Request().Context(), currentSession(c), c.QueryParam("travel_date"))
	if err != nil {
		return withAuthChallenge(err)
	}
	return respondRequests(c, items)
}

func (s *Server) handleProcessed(c echo.Context) error {
	filter := app.ProcessedFilter{
		From: c.QueryParam("from"),
		To:   c.QueryParam("to"),
	}
	switch status := c.QueryParam("status"); status {
	case "":
	case string(domain.StatusApproved):
		filter.Status = domain.StatusApproved
	case string(domain.StatusDeclined):
		filter.Status = domain.StatusDeclined
	default:
		return apperrors.ValidationError("status must be Approved or Declined").WithField("status", status)
	}

	items, err := s.app.FetchProcessed(c.Request().Context(), currentSession(c), filter)
	if err != nil {
		return withAuthChallenge(err)
	}
	return respondRequests(c, items)
}

func (s *Server) handleByID(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}

	item, err := s.app.FetchByID(c.Request().Context(), currentSession(c), id)
	if err != nil {
		return withAuthChallenge(err)
	}

	if err := c.JSON(http.StatusOK, item); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleApprove(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}

	if err := s.app.Approve(c.Request().Context(), currentSession(c), id); err != nil {
		return withAuthChallenge(err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDecline(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	if err := s.app.Decline(c.Request().Context(), currentSession(c), id, body.Reason); err != nil {
		return withAuthChallenge(err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDispatch(c echo.Context) error {
	var body struct {
		IDs []int `json:"ids"`
	}
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	result, err := s.app.Dispatch(c.Request().Context(), currentSession(c), body.IDs)
	if err != nil {
		return withAuthChallenge(err)
	}

	status := http.StatusOK
	switch result.State {
	case app.StatePartiallyApproved:
		status = http.StatusMultiStatus
	case app.StateFailed:
		status = http.StatusBadGateway
	}
	if err := c.JSON(status, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDispatchRetry(c echo.Context) error {
	var body struct {
		DraftID    string `json:"draft_id"`
		ComposeURL string `json:"compose_url"`
		IDs        []int  `json:"ids"`
	}
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	draft := &domain.MailDraftResult{ID: body.DraftID, ComposeURL: body.ComposeURL}
	result, err := s.app.RetryApprovals(c.Request().Context(), currentSession(c), draft, body.IDs)
	if err != nil {
		return withAuthChallenge(err)
	}

	status := http.StatusOK
	if result.State == app.StatePartiallyApproved {
		status = http.StatusMultiStatus
	}
	if err := c.JSON(status, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func requestID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("invalid request id").WithField("id", c.Param("id"))
	}
	return id, nil
}

func respondRequests(c echo.Context, items []domain.TravelRequest) error {
	if items == nil {
		items = []domain.TravelRequest{}
	}
	if err := c.JSON(http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
