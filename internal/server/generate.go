package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bfitz887/pdf-api/internal/account"
	apierrors "github.com/bfitz887/pdf-api/internal/errors"
	"github.com/bfitz887/pdf-api/internal/logging"
	"github.com/bfitz887/pdf-api/internal/middleware"
	"github.com/bfitz887/pdf-api/internal/models"
	"github.com/bfitz887/pdf-api/internal/monitoring"
	"github.com/bfitz887/pdf-api/internal/pdf"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Logical endpoint names recorded in the usage ledger
const (
	endpointText   = "generate/text"
	endpointReport = "generate/report"
	endpointFile   = "generate/file"
)

// handleGenerateText renders a plain text document
func (s *APIServer) handleGenerateText(c *gin.Context) {
	var req pdf.TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	s.generate(c, endpointText, "text", "document.pdf", func() ([]byte, error) {
		return s.renderer.RenderText(&req)
	})
}

// handleGenerateReport renders a structured report
func (s *APIServer) handleGenerateReport(c *gin.Context) {
	var req pdf.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	s.generate(c, endpointReport, "report", "report.pdf", func() ([]byte, error) {
		return s.renderer.RenderReport(&req)
	})
}

// handleGenerateFile wraps an uploaded text file into a paginated document
func (s *APIServer) handleGenerateFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, apierrors.NewValidationError("multipart field 'file' is required"))
		return
	}

	if fileHeader.Size > s.renderer.MaxUploadBytes() {
		respondError(c, apierrors.NewPayloadTooLargeError(s.renderer.MaxUploadBytes()))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	defer f.Close()

	// Size is client-reported; the reader is capped as well
	data, err := io.ReadAll(io.LimitReader(f, s.renderer.MaxUploadBytes()+1))
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	if int64(len(data)) > s.renderer.MaxUploadBytes() {
		respondError(c, apierrors.NewPayloadTooLargeError(s.renderer.MaxUploadBytes()))
		return
	}

	name := filepath.Base(fileHeader.Filename)
	outName := name
	if ext := filepath.Ext(outName); ext != "" {
		outName = outName[:len(outName)-len(ext)]
	}
	if outName == "" || outName == "." {
		outName = "document"
	}

	s.generate(c, endpointFile, "file", outName+".pdf", func() ([]byte, error) {
		return s.renderer.RenderUpload(name, data)
	})
}

// generate runs the metered render pipeline: reserve a quota unit, render,
// record the outcome, then stream the document. The reservation is refunded
// by Record when the render fails and failed calls are not billed.
func (s *APIServer) generate(c *gin.Context, endpoint, kind, filename string, render func() ([]byte, error)) {
	acct := middleware.AccountFromContext(c)
	if acct == nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	ctx := c.Request.Context()
	requestID := c.GetString("request_id")

	if err := s.recorder.Reserve(ctx, acct); err != nil {
		var quotaErr *account.QuotaError
		switch {
		case errors.As(err, &quotaErr):
			monitoring.RecordQuotaRejection()
			respondError(c, apierrors.NewQuotaExceededError(quotaErr.CurrentUsage, quotaErr.MonthlyLimit))
		case errors.Is(err, account.ErrSuspended):
			respondError(c, apierrors.ErrAccountSuspendedError)
		default:
			log.Error().Err(err).Str("request_id", requestID).Msg("Failed to reserve quota unit")
			respondError(c, apierrors.ErrStorageFailureError)
		}
		return
	}

	start := time.Now()
	data, err := render()
	latency := time.Since(start)

	if err != nil {
		s.recorder.Record(ctx, acct, endpoint, false, 0)
		monitoring.RecordDocument(kind, "error", 0, latency)
		logging.LogGeneration(requestID, acct.ID.String(), endpoint, false, 0, latency)
		respondError(c, s.renderError(err))
		return
	}

	size := int64(len(data))
	s.recorder.Record(ctx, acct, endpoint, true, size)
	monitoring.RecordDocument(kind, "success", size, latency)
	monitoring.RecordUsageEvent(endpoint)
	logging.LogGeneration(requestID, acct.ID.String(), endpoint, true, size, latency)

	if s.archive != nil {
		s.archive.ArchiveAsync(acct.ID, data)
	}

	s.setQuotaHeaders(c, acct)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

// setQuotaHeaders exposes the account's meter on successful responses
func (s *APIServer) setQuotaHeaders(c *gin.Context, acct *models.Account) {
	if acct.Unlimited() {
		c.Header("X-Quota-Limit", "unlimited")
		return
	}
	c.Header("X-Quota-Limit", strconv.FormatInt(acct.MonthlyLimit, 10))
	c.Header("X-Quota-Remaining", strconv.FormatInt(acct.Remaining(), 10))
}

// renderError maps renderer failures onto the wire taxonomy
func (s *APIServer) renderError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, pdf.ErrEmptyDocument), errors.Is(err, pdf.ErrInvalidPageSize):
		return apierrors.NewValidationError(err.Error())
	case errors.Is(err, pdf.ErrUploadTooLarge):
		return apierrors.NewPayloadTooLargeError(s.renderer.MaxUploadBytes())
	default:
		return apierrors.ErrInternalServerError
	}
}
