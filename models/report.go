package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReportArgs is the inbound report payload. Binding tags cover JSON,
// urlencoded and multipart bodies.
type ReportArgs struct {
	CollegeCode      string `json:"collegeCode" form:"collegeCode"`
	IncidentCategory string `json:"incidentCategory" form:"incidentCategory"`
	IncidentType     string `json:"incidentType" form:"incidentType"`
	Description      string `json:"description" form:"description"`
	Date             string `json:"date" form:"date"`
	Timestamp        string `json:"timestamp" form:"timestamp"`
	ImageRef         string `json:"imageRef" form:"imageRef"`
}

// Report represents a persisted incident report
type Report struct {
	ID               string    `json:"id"`
	CollegeCode      string    `json:"collegeCode"`
	IncidentCategory string    `json:"incidentCategory"`
	IncidentType     string    `json:"incidentType"`
	Description      string    `json:"description"`
	ImageRef         string    `json:"imageRef,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

// MissingFields returns the names of required fields that are empty, in
// payload order.
func (a *ReportArgs) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"collegeCode", a.CollegeCode},
		{"incidentCategory", a.IncidentCategory},
		{"incidentType", a.IncidentType},
		{"description", a.Description},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// RawOccurredAt returns the caller supplied incident time, preferring date
// over timestamp.
func (a *ReportArgs) RawOccurredAt() string {
	if strings.TrimSpace(a.Date) != "" {
		return a.Date
	}
	return a.Timestamp
}

// ValidationError lists the required fields missing from a payload.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

var occurredAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// minMillisDigits is the shortest string read as unix milliseconds
// (2001-09-09 onwards).
const minMillisDigits = 13

// ParseOccurredAt parses a caller supplied time. Empty or unparsable input,
// or a time outside the store's DATETIME range, yields fallback.
func ParseOccurredAt(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range occurredAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return storable(t.UTC(), fallback)
		}
	}
	// Browsers often send Date.now()
	if len(raw) >= minMillisDigits {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			return storable(time.UnixMilli(ms).UTC(), fallback)
		}
	}
	return fallback
}

// storable returns fallback when t cannot be held by a MySQL DATETIME column.
func storable(t, fallback time.Time) time.Time {
	if y := t.Year(); y < 1000 || y > 9999 {
		return fallback
	}
	return t
}
