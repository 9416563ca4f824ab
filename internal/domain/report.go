package domain

import "time"

// NewBookEntry is one newly discovered book listed in a daily report.
type NewBookEntry struct {
	BookID     string    `json:"book_id"`
	Name       string    `json:"name"`
	DetectedAt time.Time `json:"detected_at"`
}

// DailyReport aggregates one calendar day of detection activity.
type DailyReport struct {
	ID                  string                 `json:"id"`
	ReportDate          time.Time              `json:"report_date"`
	GeneratedAt         time.Time              `json:"generated_at"`
	TotalBooksInSystem  int                    `json:"total_books_in_system"`
	BooksChecked        int                    `json:"books_checked"`
	ChangesDetected     int                    `json:"changes_detected"`
	NewBooksAdded       int                    `json:"new_books_added"`
	BooksUpdated        int                    `json:"books_updated"`
	BooksRemoved        int                    `json:"books_removed"`
	ChangesByType       map[ChangeType]int     `json:"changes_by_type"`
	ChangesBySeverity   map[ChangeSeverity]int `json:"changes_by_severity"`
	TotalProcessingTime float64                `json:"total_processing_time_seconds"`
	AvgSecondsPerBook   float64                `json:"avg_seconds_per_book"`
	SignificantChanges  []ChangeRecord         `json:"significant_changes"`
	NewBooks            []NewBookEntry         `json:"new_books"`
	ErrorsEncountered   []string               `json:"errors_encountered"`
	SystemHealthScore   float64                `json:"system_health_score"`
}
