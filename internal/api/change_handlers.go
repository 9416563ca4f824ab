package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// maxChangeScan caps how many change records a single listing request will
// pull from the store before paginating in memory. The change log is
// append-only and scanned newest-first, so the cap bounds both the response
// total and the scan cost.
const maxChangeScan = 10000

func (s *Server) registerChangeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listChanges",
		Method:      http.MethodGet,
		Path:        "/api/v1/changes",
		Summary:     "List detected changes",
		Description: "Returns detected catalog changes newest-first, with filtering by book, type, severity, and time.",
		Tags:        []string{"Changes"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListChanges)
}

// === DTOs ===

type ListChangesInput struct {
	Authorization string `header:"Authorization"`
	BookID        string `query:"book_id" doc:"Only changes for this book"`
	ChangeType    string `query:"change_type" enum:"new_book,price_change,availability_change,description_change,image_change,rating_change,reviews_change,category_change,book_removed" doc:"Only changes of this type"`
	Severity      string `query:"severity" enum:"low,medium,high,critical" doc:"Only changes of this severity"`
	Since         string `query:"since" doc:"Only changes detected at or after this ISO timestamp"`
	Page          int    `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PerPage       int    `query:"per_page" default:"20" minimum:"1" maximum:"100" doc:"Items per page"`
}

type ChangeResponse struct {
	ChangeID        string    `json:"change_id" doc:"Unique change identifier"`
	BookID          string    `json:"book_id" doc:"Affected book"`
	BookName        string    `json:"book_name" doc:"Affected book's title, empty when the book is gone"`
	ChangeType      string    `json:"change_type" doc:"Kind of change"`
	Severity        string    `json:"severity" doc:"Change severity"`
	FieldName       string    `json:"field_name" doc:"Field that changed"`
	OldValue        *string   `json:"old_value" doc:"Previous value, null for new books"`
	NewValue        *string   `json:"new_value" doc:"New value, null for removals"`
	ChangeSummary   string    `json:"change_summary" doc:"Human-readable description"`
	DetectedAt      time.Time `json:"detected_at" doc:"When the change was detected"`
	ConfidenceScore float64   `json:"confidence_score" doc:"Detection confidence, 0 to 1"`
}

type ChangesPageResponse struct {
	Changes []ChangeResponse `json:"changes" doc:"List of changes"`
	PageMeta
}

type ListChangesOutput struct {
	RateLimitHeaders
	Body ChangesPageResponse
}

// === Handlers ===

func (s *Server) handleListChanges(ctx context.Context, input *ListChangesInput) (*ListChangesOutput, error) {
	_, quota, err := s.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	filter := store.ChangeFilter{
		BookID:   input.BookID,
		Type:     domain.ChangeType(input.ChangeType),
		Severity: domain.ChangeSeverity(input.Severity),
	}

	if input.Since != "" {
		since, err := parseSince(input.Since)
		if err != nil {
			return nil, err
		}
		filter.Since = &since
	}

	matches, err := s.store.ListChanges(ctx, filter, maxChangeScan)
	if err != nil {
		return nil, err
	}

	total := len(matches)
	start := min((input.Page-1)*input.PerPage, total)
	end := min(start+input.PerPage, total)

	changes := make([]ChangeResponse, 0, end-start)
	for _, change := range matches[start:end] {
		changes = append(changes, s.mapChangeResponse(ctx, change))
	}

	out := &ListChangesOutput{
		Body: ChangesPageResponse{
			Changes:  changes,
			PageMeta: newPageMeta(total, input.Page, input.PerPage),
		},
	}
	out.RateLimitHeaders = quota
	return out, nil
}

// parseSince accepts the timestamp formats clients actually send: full
// RFC 3339, the same without a zone, and a bare date.
func parseSince(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, huma.Error400BadRequest("Invalid date format for 'since' parameter. Use ISO format.")
}

// === Mappers ===

// mapChangeResponse flattens a change record for the API, resolving the
// book name best-effort. Change records outlive their books, so a missing
// book leaves the name empty rather than failing the request.
func (s *Server) mapChangeResponse(ctx context.Context, c *domain.ChangeRecord) ChangeResponse {
	resp := ChangeResponse{
		ChangeID:        c.ID,
		BookID:          c.BookID,
		ChangeType:      string(c.Type),
		Severity:        string(c.Severity),
		FieldName:       c.FieldName,
		OldValue:        c.OldValue,
		NewValue:        c.NewValue,
		ChangeSummary:   c.Summary,
		DetectedAt:      c.DetectedAt,
		ConfidenceScore: c.ConfidenceScore,
	}

	if book, err := s.store.GetBook(ctx, c.BookID); err == nil {
		resp.BookName = book.Name
	}

	return resp
}
