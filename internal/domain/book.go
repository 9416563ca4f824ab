// Package domain contains the core business entities for the bookwatch catalog monitor.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Availability describes whether a book can currently be ordered.
type Availability string

// Availability values as they appear in stored documents.
const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// CrawlStatus tracks how a book record last left the crawl pipeline.
type CrawlStatus string

// Crawl status values.
const (
	CrawlStatusPending    CrawlStatus = "pending"
	CrawlStatusInProgress CrawlStatus = "in_progress"
	CrawlStatusCompleted  CrawlStatus = "completed"
	CrawlStatusFailed     CrawlStatus = "failed"
	CrawlStatusRemoved    CrawlStatus = "removed"
)

// Book is a single catalog entry mirrored from the source site.
//
// The ID is derived from SourceURL, so the same page always maps to the
// same document. Removal from the site is recorded by flipping Status to
// CrawlStatusRemoved; the document itself is never deleted by the pipeline.
type Book struct {
	Timestamps
	ID        string `json:"id" validate:"required"`
	SourceURL string `json:"source_url" validate:"required,url"`
	// Name and ImageURL may be empty: a failed field extraction falls back
	// to "" and the record is still stored. Prices fall back to zero the
	// same way; only negative values are invariant violations.
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	PriceIncludingTax decimal.Decimal `json:"price_including_tax" validate:"gte=0"`
	PriceExcludingTax decimal.Decimal `json:"price_excluding_tax" validate:"gte=0"`
	Availability      Availability    `json:"availability" validate:"oneof=in_stock out_of_stock"`
	// Rating is nil when the page shows no star rating.
	Rating          *int        `json:"rating" validate:"omitnil,gte=1,lte=5"`
	NumberOfReviews int         `json:"number_of_reviews" validate:"gte=0"`
	ImageURL        string      `json:"image_url" validate:"omitempty,url"`
	Status          CrawlStatus `json:"status" validate:"oneof=pending in_progress completed failed removed"`
	CrawlTimestamp  time.Time   `json:"crawl_timestamp"`
}

// IsRemoved reports whether the book is soft-removed.
func (b *Book) IsRemoved() bool {
	return b.Status == CrawlStatusRemoved
}

// MarkRemoved flags the book as gone from the site without deleting the
// document, so a later restore keeps its history.
func (b *Book) MarkRemoved() {
	b.Status = CrawlStatusRemoved
	b.Touch()
}

// MarkRestored clears the removed flag after the book reappears on the site.
func (b *Book) MarkRestored() {
	b.Status = CrawlStatusCompleted
	b.Touch()
}
