package domain

// Fingerprint holds the content hashes used to detect book changes without
// comparing full documents. All hashes are lowercase SHA-256 hex.
type Fingerprint struct {
	Timestamps
	BookID    string `json:"book_id"`
	SourceURL string `json:"source_url"`
	// ContentHash covers the descriptive fields a reader sees.
	ContentHash string `json:"content_hash"`
	// PriceHash covers both price fields.
	PriceHash string `json:"price_hash"`
	// AvailabilityHash covers stock state and review count.
	AvailabilityHash string `json:"availability_hash"`
	// MetadataHash covers description, category, rating and image.
	MetadataHash string `json:"metadata_hash"`
}

// Matches reports whether both fingerprints carry identical hashes.
func (f *Fingerprint) Matches(other *Fingerprint) bool {
	if other == nil {
		return false
	}
	return f.ContentHash == other.ContentHash &&
		f.PriceHash == other.PriceHash &&
		f.AvailabilityHash == other.AvailabilityHash &&
		f.MetadataHash == other.MetadataHash
}
