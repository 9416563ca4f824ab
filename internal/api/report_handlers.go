package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

func (s *Server) registerReportRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listReports",
		Method:      http.MethodGet,
		Path:        "/api/v1/reports",
		Summary:     "Daily report history",
		Description: "Returns stored daily reports for the requested window, newest first.",
		Tags:        []string{"Reports"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListReports)
}

// === DTOs ===

type ListReportsInput struct {
	Authorization string `header:"Authorization"`
	Days          int    `query:"days" default:"7" minimum:"1" maximum:"365" doc:"How many days of history to return"`
}

type NewBookResponse struct {
	BookID     string    `json:"book_id" doc:"Book identifier"`
	Name       string    `json:"name" doc:"Book title"`
	DetectedAt time.Time `json:"detected_at" doc:"When the book was first seen"`
}

type ReportResponse struct {
	ID                  string            `json:"id" doc:"Report identifier"`
	ReportDate          time.Time         `json:"report_date" doc:"Calendar day the report covers"`
	GeneratedAt         time.Time         `json:"generated_at" doc:"When the report was generated"`
	TotalBooksInSystem  int               `json:"total_books_in_system" doc:"Catalog size at generation time"`
	BooksChecked        int               `json:"books_checked" doc:"Books examined during the day's runs"`
	ChangesDetected     int               `json:"changes_detected" doc:"Changes recorded during the day"`
	NewBooksAdded       int               `json:"new_books_added" doc:"Books first seen during the day"`
	BooksUpdated        int               `json:"books_updated" doc:"Books with field changes"`
	BooksRemoved        int               `json:"books_removed" doc:"Books that disappeared from the site"`
	ChangesByType       map[string]int    `json:"changes_by_type" doc:"Change count per type"`
	ChangesBySeverity   map[string]int    `json:"changes_by_severity" doc:"Change count per severity"`
	TotalProcessingTime float64           `json:"total_processing_time_seconds" doc:"Summed run duration"`
	AvgSecondsPerBook   float64           `json:"avg_seconds_per_book" doc:"Average per-book processing time"`
	SignificantChanges  []ChangeResponse  `json:"significant_changes" doc:"High and critical severity changes"`
	NewBooks            []NewBookResponse `json:"new_books" doc:"Newly discovered books"`
	ErrorsEncountered   []string          `json:"errors_encountered" doc:"Errors reported by the day's runs"`
	SystemHealthScore   float64           `json:"system_health_score" doc:"Health score, 0 to 1"`
}

type ReportsPageResponse struct {
	Reports []ReportResponse `json:"reports" doc:"Daily reports, newest first"`
	Days    int              `json:"days" doc:"Window size in days"`
	Count   int              `json:"count" doc:"Number of reports returned"`
}

type ListReportsOutput struct {
	RateLimitHeaders
	Body ReportsPageResponse
}

// === Handlers ===

func (s *Server) handleListReports(ctx context.Context, input *ListReportsInput) (*ListReportsOutput, error) {
	_, quota, err := s.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	history, err := s.reports.History(ctx, input.Days)
	if err != nil {
		return nil, err
	}

	reports := make([]ReportResponse, 0, len(history))
	for _, r := range history {
		reports = append(reports, s.mapReportResponse(ctx, r))
	}

	out := &ListReportsOutput{
		Body: ReportsPageResponse{
			Reports: reports,
			Days:    input.Days,
			Count:   len(reports),
		},
	}
	out.RateLimitHeaders = quota
	return out, nil
}

// === Mappers ===

func (s *Server) mapReportResponse(ctx context.Context, r *domain.DailyReport) ReportResponse {
	resp := ReportResponse{
		ID:                  r.ID,
		ReportDate:          r.ReportDate,
		GeneratedAt:         r.GeneratedAt,
		TotalBooksInSystem:  r.TotalBooksInSystem,
		BooksChecked:        r.BooksChecked,
		ChangesDetected:     r.ChangesDetected,
		NewBooksAdded:       r.NewBooksAdded,
		BooksUpdated:        r.BooksUpdated,
		BooksRemoved:        r.BooksRemoved,
		ChangesByType:       make(map[string]int, len(r.ChangesByType)),
		ChangesBySeverity:   make(map[string]int, len(r.ChangesBySeverity)),
		TotalProcessingTime: r.TotalProcessingTime,
		AvgSecondsPerBook:   r.AvgSecondsPerBook,
		SignificantChanges:  make([]ChangeResponse, 0, len(r.SignificantChanges)),
		NewBooks:            make([]NewBookResponse, 0, len(r.NewBooks)),
		ErrorsEncountered:   r.ErrorsEncountered,
		SystemHealthScore:   r.SystemHealthScore,
	}

	for t, n := range r.ChangesByType {
		resp.ChangesByType[string(t)] = n
	}
	for sev, n := range r.ChangesBySeverity {
		resp.ChangesBySeverity[string(sev)] = n
	}
	for i := range r.SignificantChanges {
		resp.SignificantChanges = append(resp.SignificantChanges, s.mapChangeResponse(ctx, &r.SignificantChanges[i]))
	}
	for _, nb := range r.NewBooks {
		resp.NewBooks = append(resp.NewBooks, NewBookResponse{
			BookID:     nb.BookID,
			Name:       nb.Name,
			DetectedAt: nb.DetectedAt,
		})
	}

	return resp
}
