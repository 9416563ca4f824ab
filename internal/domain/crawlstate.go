package domain

import "time"

// CrawlState is the resumable progress snapshot a full crawl persists to disk.
// A fresh crawler process can pick up from LastProcessedPage after a crash.
type CrawlState struct {
	LastProcessedPage int       `json:"last_processed_page"`
	TotalPages        int       `json:"total_pages"`
	BooksProcessed    int       `json:"books_processed"`
	LastProcessedURL  string    `json:"last_processed_url"`
	CrawlStartTime    time.Time `json:"crawl_start_time"`
	LastUpdateTime    time.Time `json:"last_update_time"`
	Errors            []string  `json:"errors"`
}

// NewCrawlState returns a fresh state positioned before page one.
func NewCrawlState(startedAt time.Time) *CrawlState {
	return &CrawlState{
		LastProcessedPage: 0,
		CrawlStartTime:    startedAt,
		LastUpdateTime:    startedAt,
		Errors:            []string{},
	}
}

// AddError records a page-level failure without stopping the crawl.
func (s *CrawlState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// Advance marks a page as fully processed.
func (s *CrawlState) Advance(page, booksOnPage int, lastURL string) {
	s.LastProcessedPage = page
	s.BooksProcessed += booksOnPage
	if lastURL != "" {
		s.LastProcessedURL = lastURL
	}
	s.LastUpdateTime = time.Now().UTC()
}
