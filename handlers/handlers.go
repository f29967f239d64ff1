package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"incident-service/database"
	"incident-service/models"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// ReportStore persists reports
type ReportStore interface {
	SaveReport(ctx context.Context, args *models.ReportArgs) (*models.Report, error)
	State() database.State
}

// Notifier fans a saved report out to the configured recipients
type Notifier interface {
	Dispatch(ctx context.Context, report *models.Report) models.DispatchSummary
}

// ImageStore keeps uploaded photos and returns their public path
type ImageStore interface {
	Save(fh *multipart.FileHeader) (string, error)
	Remove(ref string) error
}

// EventPublisher announces saved reports to other services
type EventPublisher interface {
	Publish(message interface{}) error
}

// ReportCreatedEvent is published after a report is saved
type ReportCreatedEvent struct {
	Event  string         `json:"event"`
	Report *models.Report `json:"report"`
	SentAt time.Time      `json:"sentAt"`
}

// SubmitReportResponse is the body of a successful submission
type SubmitReportResponse struct {
	Message       string                 `json:"message"`
	ID            string                 `json:"id"`
	Report        *models.Report         `json:"report"`
	Notifications models.DispatchSummary `json:"notifications"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store        ReportStore
	notifier     Notifier
	images       ImageStore
	publisher    EventPublisher
	exposeErrors bool
}

// NewHandlers creates a new handlers instance. images and publisher may be
// nil, in which case uploads are ignored and no events are published.
// exposeErrors adds internal error details to 500 responses.
func NewHandlers(store ReportStore, notifier Notifier, images ImageStore, publisher EventPublisher, exposeErrors bool) *Handlers {
	return &Handlers{
		store:        store,
		notifier:     notifier,
		images:       images,
		publisher:    publisher,
		exposeErrors: exposeErrors,
	}
}

// SubmitReport handles POST /reports
func (h *Handlers) SubmitReport(c *gin.Context) {
	var args models.ReportArgs
	if err := c.ShouldBind(&args); err != nil {
		log.WithError(err).Warn("Failed to bind report payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if missing := args.MissingFields(); len(missing) > 0 {
		h.rejectInvalid(c, &models.ValidationError{Missing: missing})
		return
	}

	// Nothing is written to disk for a report that cannot be saved.
	var upload string
	if h.store.State() == database.StateConnected {
		upload = h.saveUpload(c)
	}
	if upload != "" {
		args.ImageRef = upload
	}

	report, err := h.store.SaveReport(c.Request.Context(), &args)
	if err != nil {
		h.removeUpload(upload)

		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			h.rejectInvalid(c, validationErr)
			return
		}

		log.WithError(err).WithField("college", args.CollegeCode).Error("Failed to save report")
		body := gin.H{"error": "Failed to save the report."}
		if h.exposeErrors {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	log.WithFields(log.Fields{
		"report":   report.ID,
		"college":  report.CollegeCode,
		"category": report.IncidentCategory,
		"type":     report.IncidentType,
	}).Info("Report saved")

	// The report is durable from here on; nothing below changes the status.
	ctx := context.WithoutCancel(c.Request.Context())
	summary := h.notifier.Dispatch(ctx, report)
	h.publish(report)

	c.JSON(http.StatusCreated, SubmitReportResponse{
		Message:       "Report received and saved successfully!",
		ID:            report.ID,
		Report:        report,
		Notifications: summary,
	})
}

func (h *Handlers) rejectInvalid(c *gin.Context, err *models.ValidationError) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   err.Error(),
		"missing": err.Missing,
	})
}

// saveUpload stores the optional "image" file. An upload that cannot be
// stored is logged and dropped.
func (h *Handlers) saveUpload(c *gin.Context) string {
	if h.images == nil {
		return ""
	}
	fh, err := c.FormFile("image")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
			log.WithError(err).Warn("Failed to read uploaded image")
		}
		return ""
	}
	ref, err := h.images.Save(fh)
	if err != nil {
		log.WithError(err).WithField("file", fh.Filename).Warn("Failed to store uploaded image, saving report without it")
		return ""
	}
	return ref
}

// removeUpload deletes a stored upload whose report was not saved.
func (h *Handlers) removeUpload(ref string) {
	if ref == "" {
		return
	}
	if err := h.images.Remove(ref); err != nil {
		log.WithError(err).WithField("image", ref).Warn("Failed to remove upload of unsaved report")
	}
}

func (h *Handlers) publish(report *models.Report) {
	if h.publisher == nil {
		return
	}
	event := ReportCreatedEvent{
		Event:  "report.created",
		Report: report,
		SentAt: time.Now().UTC(),
	}
	if err := h.publisher.Publish(event); err != nil {
		log.WithError(err).WithField("report", report.ID).Warn("Failed to publish report event")
	}
}

// HealthCheck returns 200 while the store is connected and 503 otherwise
func (h *Handlers) HealthCheck(c *gin.Context) {
	state := h.store.State()

	response := HealthResponse{
		Status:    "healthy",
		Service:   "incident-service",
		Store:     state.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if state != database.StateConnected {
		response.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, response)
}

// Root answers the plain liveness probe
func (h *Handlers) Root(c *gin.Context) {
	c.String(http.StatusOK, "Server is running!")
}
