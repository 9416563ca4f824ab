package domain

import "time"

// DetectionRun summarizes one pass of the reconciliation loop.
type DetectionRun struct {
	ID                string                 `json:"id"`
	RunTimestamp      time.Time              `json:"run_timestamp"`
	TotalBooksChecked int                    `json:"total_books_checked"`
	ChangesDetected   int                    `json:"changes_detected"`
	NewBooks          int                    `json:"new_books"`
	UpdatedBooks      int                    `json:"updated_books"`
	RemovedBooks      int                    `json:"removed_books"`
	RestoredBooks     int                    `json:"restored_books"`
	DurationSeconds   float64                `json:"duration_seconds"`
	AvgSecondsPerBook float64                `json:"avg_seconds_per_book"`
	ChangesByType     map[ChangeType]int     `json:"changes_by_type"`
	ChangesBySeverity map[ChangeSeverity]int `json:"changes_by_severity"`
	Success           bool                   `json:"success"`
	Errors            []string               `json:"errors"`
}

// NewDetectionRun creates an empty run summary with initialized counters.
func NewDetectionRun(id string, startedAt time.Time) *DetectionRun {
	return &DetectionRun{
		ID:                id,
		RunTimestamp:      startedAt,
		ChangesByType:     make(map[ChangeType]int),
		ChangesBySeverity: make(map[ChangeSeverity]int),
		Errors:            []string{},
	}
}

// CountChange folds one change record into the run's aggregates.
func (r *DetectionRun) CountChange(rec *ChangeRecord) {
	r.ChangesDetected++
	r.ChangesByType[rec.Type]++
	r.ChangesBySeverity[rec.Severity]++
}

// AddError appends a non-fatal error message to the run.
func (r *DetectionRun) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Finish stamps duration figures and the success flag. A run counts as
// successful only when no errors were collected.
func (r *DetectionRun) Finish(endedAt time.Time) {
	r.DurationSeconds = endedAt.Sub(r.RunTimestamp).Seconds()
	if r.TotalBooksChecked > 0 {
		r.AvgSecondsPerBook = r.DurationSeconds / float64(r.TotalBooksChecked)
	}
	r.Success = len(r.Errors) == 0
}
