// Package search provides full-text search over the mirrored catalog using
// Bleve. Books are indexed by name, description, and category with numeric
// fields for price and rating range filters.
package search

import (
	"github.com/filerskeepers/bookwatch/internal/domain"
)

// SearchDocument is the document structure for the Bleve index. Books are
// self-contained, so the document is a flat projection of the catalog entry
// plus the timestamps used for recency sorting.
type SearchDocument struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Category     string  `json:"category,omitempty"`
	Availability string  `json:"availability,omitempty"`
	Status       string  `json:"status"` // crawl status, filters removed books at query time
	Price        float64 `json:"price,omitempty"`
	Rating       int     `json:"rating,omitempty"`
	Reviews      int     `json:"reviews,omitempty"`

	// Timestamps for sorting
	CreatedAt int64 `json:"created_at"` // Unix millis
	UpdatedAt int64 `json:"updated_at"` // Unix millis
}

// ToMap converts the document to a map with lowercase field names.
// This ensures field names match the Bleve index mapping.
// Bleve by default uses Go struct field names (capitalized), but our
// mapping uses lowercase names, so we convert explicitly.
func (d *SearchDocument) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":         d.ID,
		"name":       d.Name,
		"status":     d.Status,
		"created_at": d.CreatedAt,
		"updated_at": d.UpdatedAt,
	}

	// Optional fields - only add if non-empty
	if d.Description != "" {
		m["description"] = d.Description
	}
	if d.Category != "" {
		m["category"] = d.Category
	}
	if d.Availability != "" {
		m["availability"] = d.Availability
	}
	if d.Price > 0 {
		m["price"] = d.Price
	}
	if d.Rating > 0 {
		m["rating"] = d.Rating
	}
	if d.Reviews > 0 {
		m["reviews"] = d.Reviews
	}

	return m
}

// BookToSearchDocument converts a catalog book to a SearchDocument.
// The indexed price is the including-tax price as a float; the store holds
// the exact decimal, the index only needs it for range filters and sorting.
func BookToSearchDocument(book *domain.Book) *SearchDocument {
	doc := &SearchDocument{
		ID:           book.ID,
		Name:         book.Name,
		Description:  book.Description,
		Category:     book.Category,
		Availability: string(book.Availability),
		Status:       string(book.Status),
		Price:        book.PriceIncludingTax.InexactFloat64(),
		Reviews:      book.NumberOfReviews,
		CreatedAt:    book.CreatedAt.UnixMilli(),
		UpdatedAt:    book.UpdatedAt.UnixMilli(),
	}

	if book.Rating != nil {
		doc.Rating = *book.Rating
	}

	return doc
}
