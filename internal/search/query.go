package search

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query string // User's search query

	// Filters
	Category     string  // Filter by exact category
	Availability string  // Filter by availability (in_stock / out_of_stock)
	MinPrice     float64 // Minimum price (inclusive)
	MaxPrice     float64 // Maximum price (inclusive, 0 = unbounded)
	MinRating    int     // Minimum star rating
	MaxRating    int     // Maximum star rating (0 = unbounded)

	// Removed books stay in the index so history endpoints can resolve
	// them; normal queries exclude them.
	IncludeRemoved bool

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "relevance", "name", "price", "rating", "reviews", "recent"
	SortOrder string // "asc", "desc"

	// Options
	IncludeFacets bool     // Include facet counts in results
	FacetFields   []string // Which fields to facet on
	Highlight     bool     // Include match highlighting
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:         20,
		Offset:        0,
		SortBy:        "relevance",
		SortOrder:     "desc",
		IncludeFacets: true,
		FacetFields:   []string{"category", "availability"},
		Highlight:     true,
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string       `json:"query"`
	Total  uint64       `json:"total"`
	TookMs int64        `json:"took_ms"`
	Hits   []SearchHit  `json:"hits"`
	Facets SearchFacets `json:"facets,omitempty"`
}

// SearchHit represents a single search result.
type SearchHit struct {
	ID           string            `json:"id"`
	Score        float64           `json:"score"`
	Name         string            `json:"name"`
	Category     string            `json:"category,omitempty"`
	Availability string            `json:"availability,omitempty"`
	Price        float64           `json:"price,omitempty"`
	Rating       int               `json:"rating,omitempty"`
	Reviews      int               `json:"reviews,omitempty"`
	Highlights   map[string]string `json:"highlights,omitempty"`
}

// SearchFacets contains facet counts.
type SearchFacets struct {
	Categories   []FacetCount `json:"categories,omitempty"`
	Availability []FacetCount `json:"availability,omitempty"`
}

// FacetCount represents a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Build the query
	searchQuery := buildSearchQuery(params)

	// Create search request
	searchRequest := bleve.NewSearchRequestOptions(searchQuery, params.Limit, params.Offset, false)

	// Add sorting
	addSorting(searchRequest, params)

	// Add facets
	if params.IncludeFacets {
		addFacets(searchRequest, params)
	}

	// Add highlighting
	if params.Highlight {
		searchRequest.Highlight = bleve.NewHighlight()
		searchRequest.Highlight.AddField("name")
	}

	// Request stored fields
	searchRequest.Fields = []string{
		"id", "name", "category", "availability", "price", "rating", "reviews",
	}

	// Execute search
	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	// Convert results
	result := &SearchResult{
		Query:  params.Query,
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(searchResult.Hits)),
	}

	for _, hit := range searchResult.Hits {
		searchHit := SearchHit{
			ID:    hit.ID,
			Score: hit.Score,
		}

		// Extract stored fields
		if n, ok := hit.Fields["name"].(string); ok {
			searchHit.Name = n
		}
		if c, ok := hit.Fields["category"].(string); ok {
			searchHit.Category = c
		}
		if a, ok := hit.Fields["availability"].(string); ok {
			searchHit.Availability = a
		}
		if p, ok := hit.Fields["price"].(float64); ok {
			searchHit.Price = p
		}
		if r, ok := hit.Fields["rating"].(float64); ok {
			searchHit.Rating = int(r)
		}
		if rv, ok := hit.Fields["reviews"].(float64); ok {
			searchHit.Reviews = int(rv)
		}

		// Extract highlights
		if len(hit.Fragments) > 0 {
			searchHit.Highlights = make(map[string]string)
			for field, fragments := range hit.Fragments {
				if len(fragments) > 0 {
					searchHit.Highlights[field] = fragments[0]
				}
			}
		}

		result.Hits = append(result.Hits, searchHit)
	}

	// Extract facets
	if params.IncludeFacets {
		result.Facets = extractFacets(searchResult)
	}

	return result, nil
}

// buildSearchQuery constructs the Bleve query from params.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	// Main text query over name and description, with the name carrying
	// most of the weight. Fuzzy and prefix variants on the name give
	// typo tolerance and autocomplete behavior.
	if params.Query != "" {
		textQueries := []query.Query{}

		// Name match with highest boost
		nameMatch := bleve.NewMatchQuery(params.Query)
		nameMatch.SetField("name")
		nameMatch.SetBoost(3.0)
		textQueries = append(textQueries, nameMatch)

		// Description match
		descMatch := bleve.NewMatchQuery(params.Query)
		descMatch.SetField("description")
		textQueries = append(textQueries, descMatch)

		// Add fuzzy matching for typo tolerance on name
		fuzzyQuery := bleve.NewFuzzyQuery(params.Query)
		fuzzyQuery.SetFuzziness(1)
		fuzzyQuery.SetField("name")
		fuzzyQuery.SetBoost(0.8)
		textQueries = append(textQueries, fuzzyQuery)

		// Prefix query for autocomplete (minimum 2 chars)
		if len(params.Query) >= 2 {
			prefixQuery := bleve.NewPrefixQuery(strings.ToLower(params.Query))
			prefixQuery.SetField("name")
			prefixQuery.SetBoost(0.5)
			textQueries = append(textQueries, prefixQuery)
		}

		// Combine with OR (match any field)
		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	// Category filter (exact match)
	if params.Category != "" {
		cq := bleve.NewTermQuery(params.Category)
		cq.SetField("category")
		queries = append(queries, cq)
	}

	// Availability filter
	if params.Availability != "" {
		aq := bleve.NewTermQuery(params.Availability)
		aq.SetField("availability")
		queries = append(queries, aq)
	}

	// Price range filter
	if params.MinPrice > 0 || params.MaxPrice > 0 {
		min := params.MinPrice
		max := params.MaxPrice
		if params.MaxPrice == 0 {
			max = math.MaxFloat64
		}
		rangeQuery := bleve.NewNumericRangeInclusiveQuery(&min, &max, boolPtr(true), boolPtr(true))
		rangeQuery.SetField("price")
		queries = append(queries, rangeQuery)
	}

	// Rating range filter
	if params.MinRating > 0 || params.MaxRating > 0 {
		min := float64(params.MinRating)
		max := float64(params.MaxRating)
		if params.MaxRating == 0 {
			max = 5
		}
		rangeQuery := bleve.NewNumericRangeInclusiveQuery(&min, &max, boolPtr(true), boolPtr(true))
		rangeQuery.SetField("rating")
		queries = append(queries, rangeQuery)
	}

	// Combine all queries with AND
	var base query.Query
	switch len(queries) {
	case 0:
		base = bleve.NewMatchAllQuery()
	case 1:
		base = queries[0]
	default:
		base = bleve.NewConjunctionQuery(queries...)
	}

	if params.IncludeRemoved {
		return base
	}

	// Exclude books no longer present on the source site
	removed := bleve.NewTermQuery(string(domain.CrawlStatusRemoved))
	removed.SetField("status")
	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(base)
	boolQuery.AddMustNot(removed)
	return boolQuery
}

func boolPtr(b bool) *bool { return &b }

// addSorting configures sort order.
func addSorting(req *bleve.SearchRequest, params SearchParams) {
	switch params.SortBy {
	case "name":
		if params.SortOrder == "desc" {
			req.SortBy([]string{"-name"})
		} else {
			req.SortBy([]string{"name"})
		}
	case "price":
		if params.SortOrder == "desc" {
			req.SortBy([]string{"-price", "name"})
		} else {
			req.SortBy([]string{"price", "name"})
		}
	case "rating":
		if params.SortOrder == "asc" {
			req.SortBy([]string{"rating", "name"})
		} else {
			req.SortBy([]string{"-rating", "name"})
		}
	case "reviews":
		if params.SortOrder == "asc" {
			req.SortBy([]string{"reviews", "name"})
		} else {
			req.SortBy([]string{"-reviews", "name"})
		}
	case "recent", "created_at":
		if params.SortOrder == "asc" {
			req.SortBy([]string{"created_at"})
		} else {
			req.SortBy([]string{"-created_at"})
		}
	case "updated_at":
		if params.SortOrder == "asc" {
			req.SortBy([]string{"updated_at"})
		} else {
			req.SortBy([]string{"-updated_at"})
		}
	default:
		// Relevance (score) is default - Bleve handles this
		req.SortBy([]string{"-_score"})
	}
}

// addFacets configures facet requests.
func addFacets(req *bleve.SearchRequest, params SearchParams) {
	for _, field := range params.FacetFields {
		facetReq := bleve.NewFacetRequest(field, 20) // Top 20 values
		req.AddFacet(field, facetReq)
	}
}

// extractFacets converts Bleve facets to our format.
func extractFacets(result *bleve.SearchResult) SearchFacets {
	facets := SearchFacets{}

	if categoryFacet, ok := result.Facets["category"]; ok {
		for _, term := range categoryFacet.Terms.Terms() {
			facets.Categories = append(facets.Categories, FacetCount{
				Value: term.Term,
				Count: term.Count,
			})
		}
	}

	if availabilityFacet, ok := result.Facets["availability"]; ok {
		for _, term := range availabilityFacet.Terms.Terms() {
			facets.Availability = append(facets.Availability, FacetCount{
				Value: term.Term,
				Count: term.Count,
			})
		}
	}

	return facets
}
