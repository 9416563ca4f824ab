package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/search"
	"github.com/filerskeepers/bookwatch/internal/store"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Description: "Returns catalog books with filtering, full-text search, sorting, and pagination. Books removed from the source site are excluded.",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}",
		Summary:     "Get book",
		Description: "Returns a single book by ID or source URL, including soft-removed books.",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetBook)
}

// === DTOs ===

type ListBooksInput struct {
	Authorization string  `header:"Authorization"`
	Category      string  `query:"category" doc:"Exact category filter"`
	Availability  string  `query:"availability" enum:"in_stock,out_of_stock" doc:"Availability filter"`
	MinPrice      float64 `query:"min_price" minimum:"0" doc:"Minimum price, inclusive"`
	MaxPrice      float64 `query:"max_price" minimum:"0" doc:"Maximum price, inclusive"`
	Rating        int     `query:"rating" minimum:"1" maximum:"5" doc:"Exact star rating"`
	Search        string  `query:"search" doc:"Full-text query over name and description"`
	SortBy        string  `query:"sort_by" enum:"name,price,rating,reviews,created_at,updated_at,relevance" default:"name" doc:"Sort field"`
	SortOrder     string  `query:"sort_order" enum:"asc,desc" default:"asc" doc:"Sort direction"`
	Page          int     `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PerPage       int     `query:"per_page" default:"20" minimum:"1" maximum:"100" doc:"Items per page"`
}

type BookResponse struct {
	ID                string    `json:"id" doc:"Unique book identifier"`
	Name              string    `json:"name" doc:"Book title"`
	Description       string    `json:"description" doc:"Book description"`
	Category          string    `json:"category" doc:"Book category"`
	PriceIncludingTax float64   `json:"price_including_tax" doc:"Price including tax"`
	PriceExcludingTax float64   `json:"price_excluding_tax" doc:"Price excluding tax"`
	Availability      string    `json:"availability" doc:"Availability status"`
	Rating            int       `json:"rating" doc:"Star rating, 0 when the page showed none"`
	NumberOfReviews   int       `json:"number_of_reviews" doc:"Number of reviews"`
	ImageURL          string    `json:"image_url" doc:"Book cover image URL"`
	SourceURL         string    `json:"source_url" doc:"Original source URL"`
	Status            string    `json:"status" doc:"Crawl status"`
	CreatedAt         time.Time `json:"created_at" doc:"Creation timestamp"`
	UpdatedAt         time.Time `json:"updated_at" doc:"Last update timestamp"`
	CrawlTimestamp    time.Time `json:"crawl_timestamp" doc:"When the page was last crawled"`
}

type BooksPageResponse struct {
	Books []BookResponse `json:"books" doc:"List of books"`
	PageMeta
}

type ListBooksOutput struct {
	RateLimitHeaders
	Body BooksPageResponse
}

type GetBookInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id" doc:"Book ID or source URL"`
}

type BookOutput struct {
	RateLimitHeaders
	Body BookResponse
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, input *ListBooksInput) (*ListBooksOutput, error) {
	_, quota, err := s.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	if input.MaxPrice > 0 && input.MinPrice > input.MaxPrice {
		return nil, huma.Error400BadRequest("max_price must be greater than min_price")
	}

	params := search.SearchParams{
		Query:        input.Search,
		Category:     input.Category,
		Availability: input.Availability,
		MinPrice:     input.MinPrice,
		MaxPrice:     input.MaxPrice,
		MinRating:    input.Rating,
		MaxRating:    input.Rating,
		Limit:        input.PerPage,
		Offset:       (input.Page - 1) * input.PerPage,
		SortBy:       input.SortBy,
		SortOrder:    input.SortOrder,
	}

	result, err := s.search.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	books := make([]BookResponse, 0, len(result.Hits))
	for _, hit := range result.Hits {
		book, err := s.store.GetBook(ctx, hit.ID)
		if err != nil {
			// The index can briefly run ahead of the store during
			// reindexing; skip rather than fail the page.
			s.logger.Debug("indexed book missing from store", "book_id", hit.ID, "error", err)
			continue
		}
		books = append(books, mapBookResponse(book))
	}

	out := &ListBooksOutput{
		Body: BooksPageResponse{
			Books:    books,
			PageMeta: newPageMeta(int(result.Total), input.Page, input.PerPage),
		},
	}
	out.RateLimitHeaders = quota
	return out, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *GetBookInput) (*BookOutput, error) {
	_, quota, err := s.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	book, err := s.lookupBook(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrBookNotFound) {
			return nil, huma.Error404NotFound("Book with ID '" + input.ID + "' not found")
		}
		return nil, err
	}

	out := &BookOutput{Body: mapBookResponse(book)}
	out.RateLimitHeaders = quota
	return out, nil
}

// lookupBook resolves a book by ID, falling back to source-URL lookup when
// the identifier looks like a URL. URLs arrive percent-encoded as a single
// path segment, so decode before sniffing for a scheme.
func (s *Server) lookupBook(ctx context.Context, id string) (*domain.Book, error) {
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	if strings.Contains(id, "://") {
		return s.store.GetBookByURL(ctx, id)
	}
	return s.store.GetBook(ctx, id)
}

// === Mappers ===

func mapBookResponse(b *domain.Book) BookResponse {
	resp := BookResponse{
		ID:                b.ID,
		Name:              b.Name,
		Description:       b.Description,
		Category:          b.Category,
		PriceIncludingTax: b.PriceIncludingTax.InexactFloat64(),
		PriceExcludingTax: b.PriceExcludingTax.InexactFloat64(),
		Availability:      string(b.Availability),
		NumberOfReviews:   b.NumberOfReviews,
		ImageURL:          b.ImageURL,
		SourceURL:         b.SourceURL,
		Status:            string(b.Status),
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
		CrawlTimestamp:    b.CrawlTimestamp,
	}

	if b.Rating != nil {
		resp.Rating = *b.Rating
	}

	return resp
}
