package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"incident-service/metrics"
	"incident-service/models"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrPersistenceFailure is returned when the store is reachable but the
// write failed.
var ErrPersistenceFailure = errors.New("persistence failure")

// Database handles all report store operations
type Database struct {
	conn  *Connection
	now   func() time.Time
	newID func() string
}

// NewDatabase creates a report store on top of conn and registers the schema
// check to run on every (re)connect.
func NewDatabase(conn *Connection) *Database {
	d := &Database{
		conn:  conn,
		now:   time.Now,
		newID: uuid.NewString,
	}
	conn.OnConnect(EnsureReportsTable)
	return d
}

// IsReady reports whether the underlying connection is Connected.
func (d *Database) IsReady() bool {
	return d.conn.IsReady()
}

// State returns the underlying connection state.
func (d *Database) State() State {
	return d.conn.State()
}

// SaveReport validates args and inserts a new report. Every call creates a
// distinct report.
func (d *Database) SaveReport(ctx context.Context, args *models.ReportArgs) (*models.Report, error) {
	if missing := args.MissingFields(); len(missing) > 0 {
		metrics.ReportsSavedTotal.WithLabelValues("rejected").Inc()
		return nil, &models.ValidationError{Missing: missing}
	}

	db, err := d.conn.DB()
	if err != nil {
		metrics.ReportsSavedTotal.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	now := d.now().UTC()
	report := &models.Report{
		ID:               d.newID(),
		CollegeCode:      args.CollegeCode,
		IncidentCategory: args.IncidentCategory,
		IncidentType:     args.IncidentType,
		Description:      args.Description,
		ImageRef:         args.ImageRef,
		OccurredAt:       models.ParseOccurredAt(args.RawOccurredAt(), now),
		CreatedAt:        now,
	}

	var imageRef sql.NullString
	if report.ImageRef != "" {
		imageRef = sql.NullString{String: report.ImageRef, Valid: true}
	}

	result, err := db.ExecContext(ctx, `INSERT
	  INTO reports (id, college_code, incident_category, incident_type, description, image_ref, occurred_at, created_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.CollegeCode, report.IncidentCategory, report.IncidentType,
		report.Description, imageRef, report.OccurredAt, report.CreatedAt)
	logResult("saveReport", result, err)
	if err != nil {
		d.conn.ReportFailure(err)
		metrics.ReportsSavedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: insert report: %v", ErrPersistenceFailure, err)
	}

	metrics.ReportsSavedTotal.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{"id": report.ID, "college": report.CollegeCode}).Info("Report saved")
	return report, nil
}

// EnsureReportsTable creates the reports table if it doesn't exist
func EnsureReportsTable(ctx context.Context, db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS reports (
			seq INT AUTO_INCREMENT PRIMARY KEY,
			id CHAR(36) NOT NULL UNIQUE,
			college_code VARCHAR(64) NOT NULL,
			incident_category VARCHAR(128) NOT NULL,
			incident_type VARCHAR(128) NOT NULL,
			description TEXT NOT NULL,
			image_ref VARCHAR(512) NULL,
			occurred_at DATETIME(3) NOT NULL,
			created_at DATETIME(3) NOT NULL,
			INDEX idx_college_code (college_code),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}
	return nil
}

func logResult(msgPrefix string, r sql.Result, e error) {
	if e != nil {
		log.WithError(e).Errorf("%s: query failed", msgPrefix)
		return
	}
	rows, err := r.RowsAffected()
	if err != nil {
		log.WithError(err).Errorf("%s: failed to get status of db op", msgPrefix)
		return
	}
	if rows != 1 {
		log.Warnf("%s: expected to affect 1 row, affected %d", msgPrefix, rows)
	}
}
