package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerStatsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/stats",
		Summary:     "Catalog statistics",
		Description: "Returns aggregate counts for the mirrored catalog, the change log, and the store itself.",
		Tags:        []string{"Statistics"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetStats)
}

// === DTOs ===

type GetStatsInput struct {
	Authorization string `header:"Authorization"`
}

type StatsResponse struct {
	TotalBooks          int            `json:"total_books" doc:"All stored books, including removed ones"`
	ActiveBooks         int            `json:"active_books" doc:"Books still present on the site"`
	RemovedBooks        int            `json:"removed_books" doc:"Soft-removed books"`
	BooksByStatus       map[string]int `json:"books_by_status" doc:"Book count per crawl status"`
	TotalCategories     int            `json:"total_categories" doc:"Distinct category count"`
	Categories          []string       `json:"categories" doc:"Distinct categories, sorted"`
	Fingerprints        int            `json:"fingerprints" doc:"Stored fingerprint count"`
	FingerprintCoverage float64        `json:"fingerprint_coverage" doc:"Fingerprints per stored book, 0 to 1"`
	TotalChanges        int            `json:"total_changes" doc:"All recorded changes"`
	RecentChanges24h    int            `json:"recent_changes_24h" doc:"Changes detected in the last 24 hours"`
	DetectionRuns       int            `json:"detection_runs" doc:"Completed detection runs"`
	SizeBytes           int64          `json:"size_bytes" doc:"On-disk store size"`
	DiskFreeBytes       uint64         `json:"disk_free_bytes" doc:"Free space on the store's volume"`
}

type StatsOutput struct {
	RateLimitHeaders
	Body StatsResponse
}

// === Handlers ===

func (s *Server) handleGetStats(ctx context.Context, input *GetStatsInput) (*StatsOutput, error) {
	_, quota, err := s.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	categories, err := s.store.Categories(ctx)
	if err != nil {
		return nil, err
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	recent, err := s.store.CountChanges(ctx, &dayAgo)
	if err != nil {
		return nil, err
	}

	coverage := 0.0
	if stats.TotalBooks > 0 {
		coverage = float64(stats.Fingerprints) / float64(stats.TotalBooks)
	}

	out := &StatsOutput{
		Body: StatsResponse{
			TotalBooks:          stats.TotalBooks,
			ActiveBooks:         stats.ActiveBooks,
			RemovedBooks:        stats.RemovedBooks,
			BooksByStatus:       stats.BooksByStatus,
			TotalCategories:     len(categories),
			Categories:          categories,
			Fingerprints:        stats.Fingerprints,
			FingerprintCoverage: coverage,
			TotalChanges:        stats.TotalChanges,
			RecentChanges24h:    recent,
			DetectionRuns:       stats.DetectionRuns,
			SizeBytes:           stats.SizeBytes,
			DiskFreeBytes:       stats.DiskFreeBytes,
		},
	}
	out.RateLimitHeaders = quota
	return out, nil
}
