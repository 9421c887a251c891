package models

// Page defaults and bounds shared by every list endpoint.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Sort directions accepted by PageRequest.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// PageRequest shapes paging and sorting input for list queries.
type PageRequest struct {
	Page      int
	PageSize  int
	SortField string
	SortOrder string
}

// Normalize clamps paging values into their legal ranges and coerces the
// sort direction to asc when unrecognised.
func (p *PageRequest) Normalize() {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	if p.SortOrder != SortAsc && p.SortOrder != SortDesc {
		p.SortOrder = SortAsc
	}
}

// Offset returns the row offset for the normalized request.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	TotalCount  int  `json:"total_count"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// NewPagination derives response metadata from a normalized request and the
// total row count.
func NewPagination(req PageRequest, total int) *Pagination {
	req.Normalize()
	pages := 0
	if total > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return &Pagination{
		Page:        req.Page,
		PageSize:    req.PageSize,
		TotalCount:  total,
		TotalPages:  pages,
		HasNext:     req.Page < pages,
		HasPrevious: req.Page > 1 && total > 0,
	}
}
