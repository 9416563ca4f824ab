// Package diff compares stored book snapshots against freshly fetched
// ones and classifies each field-level divergence into a change record.
package diff

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/filerskeepers/bookwatch/internal/canonical"
	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
	"github.com/filerskeepers/bookwatch/internal/id"
)

// fieldSpec pairs a diffable field with its equality check and canonical
// rendering. The walk order below is fixed; summaries and classification
// key off these names.
type fieldSpec struct {
	name   string
	equal  func(stored, current *domain.Book) bool
	render func(b *domain.Book) *string
}

var diffFields = []fieldSpec{
	{
		name:   "name",
		equal:  func(s, c *domain.Book) bool { return s.Name == c.Name },
		render: func(b *domain.Book) *string { return canonical.String(b.Name) },
	},
	{
		name:   "description",
		equal:  func(s, c *domain.Book) bool { return s.Description == c.Description },
		render: func(b *domain.Book) *string { return canonical.String(b.Description) },
	},
	{
		name:   "category",
		equal:  func(s, c *domain.Book) bool { return s.Category == c.Category },
		render: func(b *domain.Book) *string { return canonical.String(b.Category) },
	},
	{
		name:   "price_including_tax",
		equal:  func(s, c *domain.Book) bool { return s.PriceIncludingTax.Equal(c.PriceIncludingTax) },
		render: func(b *domain.Book) *string { return canonical.Decimal(b.PriceIncludingTax) },
	},
	{
		name:   "price_excluding_tax",
		equal:  func(s, c *domain.Book) bool { return s.PriceExcludingTax.Equal(c.PriceExcludingTax) },
		render: func(b *domain.Book) *string { return canonical.Decimal(b.PriceExcludingTax) },
	},
	{
		name:   "availability",
		equal:  func(s, c *domain.Book) bool { return s.Availability == c.Availability },
		render: func(b *domain.Book) *string { return canonical.String(string(b.Availability)) },
	},
	{
		name:   "rating",
		equal:  func(s, c *domain.Book) bool { return intPtrEqual(s.Rating, c.Rating) },
		render: func(b *domain.Book) *string { return canonical.IntPtr(b.Rating) },
	},
	{
		name:   "number_of_reviews",
		equal:  func(s, c *domain.Book) bool { return s.NumberOfReviews == c.NumberOfReviews },
		render: func(b *domain.Book) *string { return canonical.Int(b.NumberOfReviews) },
	},
	{
		name:   "image_url",
		equal:  func(s, c *domain.Book) bool { return s.ImageURL == c.ImageURL },
		render: func(b *domain.Book) *string { return canonical.String(b.ImageURL) },
	},
}

// classify maps a differing field to its change type and severity.
func classify(field string) (domain.ChangeType, domain.ChangeSeverity) {
	switch field {
	case "price_including_tax", "price_excluding_tax":
		return domain.ChangeTypePriceChange, domain.SeverityHigh
	case "availability":
		return domain.ChangeTypeAvailabilityChange, domain.SeverityMedium
	case "rating":
		return domain.ChangeTypeRatingChange, domain.SeverityMedium
	case "number_of_reviews":
		return domain.ChangeTypeReviewsChange, domain.SeverityLow
	case "category":
		return domain.ChangeTypeCategoryChange, domain.SeverityMedium
	case "image_url":
		return domain.ChangeTypeImageChange, domain.SeverityLow
	case "description":
		return domain.ChangeTypeDescriptionChange, domain.SeverityLow
	case "name":
		// Rare but important: a retitled listing is effectively a
		// different product under the same URL.
		return domain.ChangeTypeDescriptionChange, domain.SeverityHigh
	default:
		return domain.ChangeTypeDescriptionChange, domain.SeverityLow
	}
}

// Differ compares book snapshots and emits classified change records.
type Differ struct {
	logger *slog.Logger
}

func NewDiffer(logger *slog.Logger) *Differ {
	return &Differ{logger: logger}
}

// Result carries the outcome of one comparison. Fingerprint is the hash
// set of the current snapshot, computed exactly once per comparison so
// callers can persist it without rehashing.
type Result struct {
	Changes     []*domain.ChangeRecord
	Fingerprint *domain.Fingerprint
	// FastPath is true when the stored fingerprint matched and the field
	// walk was skipped entirely.
	FastPath bool
}

// Compare diffs a stored snapshot against the current one. When the
// stored fingerprint still matches the freshly computed hashes the field
// walk is skipped. One ChangeRecord per differing field, in fixed walk
// order, each with confidence 1.0.
func (d *Differ) Compare(stored, current *domain.Book, storedFP *domain.Fingerprint) (*Result, error) {
	currentFP, err := fingerprint.Compute(current)
	if err != nil {
		return nil, fmt.Errorf("computing fingerprint: %w", err)
	}

	if storedFP != nil && storedFP.Matches(currentFP) {
		return &Result{Fingerprint: currentFP, FastPath: true}, nil
	}

	now := time.Now().UTC()
	var changes []*domain.ChangeRecord

	for _, field := range diffFields {
		if field.equal(stored, current) {
			continue
		}

		oldVal := field.render(stored)
		newVal := field.render(current)
		changeType, severity := classify(field.name)

		changes = append(changes, &domain.ChangeRecord{
			ID:              id.NewRecordID(),
			BookID:          current.ID,
			SourceURL:       current.SourceURL,
			Type:            changeType,
			Severity:        severity,
			FieldName:       field.name,
			OldValue:        oldVal,
			NewValue:        newVal,
			Summary:         fmt.Sprintf("%s changed from '%s' to '%s'", field.name, renderValue(oldVal), renderValue(newVal)),
			DetectedAt:      now,
			ConfidenceScore: 1.0,
		})
	}

	if len(changes) > 0 {
		fieldNames := make([]string, len(changes))
		for i, c := range changes {
			fieldNames[i] = c.FieldName
		}
		d.logger.Debug("book diverged",
			"book_id", current.ID,
			"fields", fieldNames,
		)
	}

	return &Result{Changes: changes, Fingerprint: currentFP}, nil
}

// renderValue prints a canonical value for a change summary. Absent
// values read as null.
func renderValue(v *string) string {
	if v == nil {
		return "null"
	}
	return *v
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
