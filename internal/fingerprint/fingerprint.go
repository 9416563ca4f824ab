// Package fingerprint derives stable identifiers and content hashes used
// to detect catalog changes between detection runs.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/filerskeepers/bookwatch/internal/canonical"
	"github.com/filerskeepers/bookwatch/internal/domain"
)

// BookID derives the document ID for a source URL. The same URL always
// maps to the same ID, which is what makes re-crawls idempotent.
func BookID(sourceURL string) string {
	sum := md5.Sum([]byte(sourceURL)) //#nosec G401 -- identifier derivation, not a security boundary
	return "book_" + hex.EncodeToString(sum[:])
}

// Compute derives the four field-group hashes for a book. Timestamps are
// left zero; the store sets them on write.
func Compute(book *domain.Book) (*domain.Fingerprint, error) {
	content, err := hashFields(map[string]*string{
		"name":                canonical.String(book.Name),
		"description":         canonical.String(book.Description),
		"category":            canonical.String(book.Category),
		"price_including_tax": canonical.Decimal(book.PriceIncludingTax),
		"availability":        canonical.String(string(book.Availability)),
		"rating":              canonical.IntPtr(book.Rating),
		"number_of_reviews":   canonical.Int(book.NumberOfReviews),
	})
	if err != nil {
		return nil, fmt.Errorf("content hash: %w", err)
	}

	price, err := hashFields(map[string]*string{
		"price_including_tax": canonical.Decimal(book.PriceIncludingTax),
		"price_excluding_tax": canonical.Decimal(book.PriceExcludingTax),
	})
	if err != nil {
		return nil, fmt.Errorf("price hash: %w", err)
	}

	availability, err := hashFields(map[string]*string{
		"availability":      canonical.String(string(book.Availability)),
		"number_of_reviews": canonical.Int(book.NumberOfReviews),
	})
	if err != nil {
		return nil, fmt.Errorf("availability hash: %w", err)
	}

	metadata, err := hashFields(map[string]*string{
		"description": canonical.String(book.Description),
		"category":    canonical.String(book.Category),
		"rating":      canonical.IntPtr(book.Rating),
		"image_url":   canonical.String(book.ImageURL),
	})
	if err != nil {
		return nil, fmt.Errorf("metadata hash: %w", err)
	}

	return &domain.Fingerprint{
		BookID:           book.ID,
		SourceURL:        book.SourceURL,
		ContentHash:      content,
		PriceHash:        price,
		AvailabilityHash: availability,
		MetadataHash:     metadata,
	}, nil
}

func hashFields(fields map[string]*string) (string, error) {
	data, err := canonical.Encode(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashDelta names one field-group hash that differs between two fingerprints.
type HashDelta struct {
	Group string
	Old   string
	New   string
}

// Hash group names reported by Compare.
const (
	GroupContent      = "content"
	GroupPrice        = "price"
	GroupAvailability = "availability"
	GroupMetadata     = "metadata"
)

// Compare reports which hash groups differ between two fingerprints, in a
// fixed order. A nil side is treated as all-empty hashes.
func Compare(old, new *domain.Fingerprint) []HashDelta {
	var o, n domain.Fingerprint
	if old != nil {
		o = *old
	}
	if new != nil {
		n = *new
	}

	var deltas []HashDelta
	pairs := []struct {
		group    string
		old, new string
	}{
		{GroupContent, o.ContentHash, n.ContentHash},
		{GroupPrice, o.PriceHash, n.PriceHash},
		{GroupAvailability, o.AvailabilityHash, n.AvailabilityHash},
		{GroupMetadata, o.MetadataHash, n.MetadataHash},
	}
	for _, p := range pairs {
		if p.old != p.new {
			deltas = append(deltas, HashDelta{Group: p.group, Old: p.old, New: p.new})
		}
	}
	return deltas
}
