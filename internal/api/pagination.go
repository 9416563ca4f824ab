package api

// PageMeta carries the pagination fields shared by list responses.
// Embedding flattens them into the response body.
type PageMeta struct {
	Total      int  `json:"total" doc:"Total matches across all pages"`
	Page       int  `json:"page" doc:"Current page number"`
	PerPage    int  `json:"per_page" doc:"Items per page"`
	TotalPages int  `json:"total_pages" doc:"Total number of pages"`
	HasNext    bool `json:"has_next" doc:"Whether a next page exists"`
	HasPrev    bool `json:"has_prev" doc:"Whether a previous page exists"`
}

func newPageMeta(total, page, perPage int) PageMeta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}

	return PageMeta{
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
