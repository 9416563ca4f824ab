package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ChangeType classifies what kind of divergence was detected for a book.
type ChangeType string

// Change types.
const (
	ChangeTypeNewBook            ChangeType = "new_book"
	ChangeTypePriceChange        ChangeType = "price_change"
	ChangeTypeAvailabilityChange ChangeType = "availability_change"
	ChangeTypeDescriptionChange  ChangeType = "description_change"
	ChangeTypeImageChange        ChangeType = "image_change"
	ChangeTypeRatingChange       ChangeType = "rating_change"
	ChangeTypeReviewsChange      ChangeType = "reviews_change"
	ChangeTypeCategoryChange     ChangeType = "category_change"
	ChangeTypeBookRemoved        ChangeType = "book_removed"
)

var titleCaser = cases.Title(language.English)

// Label renders the change type for human-facing output,
// e.g. "price_change" becomes "Price Change".
func (t ChangeType) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

// ChangeSeverity ranks how urgent a change is.
type ChangeSeverity string

// Severity levels, ordered low to critical.
const (
	SeverityLow      ChangeSeverity = "low"
	SeverityMedium   ChangeSeverity = "medium"
	SeverityHigh     ChangeSeverity = "high"
	SeverityCritical ChangeSeverity = "critical"
)

// Rank returns the ordering value of a severity (low=1 .. critical=4).
// Unknown severities rank lowest.
func (s ChangeSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as min.
func (s ChangeSeverity) AtLeast(min ChangeSeverity) bool {
	return s.Rank() >= min.Rank()
}

// Label renders the severity for human-facing output.
func (s ChangeSeverity) Label() string {
	return titleCaser.String(string(s))
}

// ChangeRecord is one detected difference between the stored snapshot of a
// book and its current state on the site. Records are append-only.
type ChangeRecord struct {
	ID        string         `json:"id"`
	BookID    string         `json:"book_id"`
	SourceURL string         `json:"source_url"`
	Type      ChangeType     `json:"change_type"`
	Severity  ChangeSeverity `json:"severity"`
	FieldName string         `json:"field_name"`
	// OldValue and NewValue hold canonical string renderings of the field;
	// nil means the side had no value (a new book has no old value).
	OldValue        *string    `json:"old_value"`
	NewValue        *string    `json:"new_value"`
	Summary         string     `json:"change_summary"`
	DetectedAt      time.Time  `json:"detected_at"`
	ConfidenceScore float64    `json:"confidence_score"`
	Processed       bool       `json:"processed"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// MarkProcessed flags the record as handled by downstream alerting.
func (c *ChangeRecord) MarkProcessed() {
	now := time.Now().UTC()
	c.Processed = true
	c.ProcessedAt = &now
}
