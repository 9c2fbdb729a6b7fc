package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Pagination is an offset window bound from query parameters.
type Pagination struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// Normalize clamps the window into [1, max] with a non-negative offset.
func (p Pagination) Normalize(def, max int) Pagination {
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type PageInfo struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// Trim drops the probe row fetched past the window and reports whether it existed.
// Callers query Limit+1 rows.
func Trim[T any](rows []T, p Pagination) ([]T, PageInfo) {
	info := PageInfo{Limit: p.Limit, Offset: p.Offset}
	if len(rows) > p.Limit {
		info.HasMore = true
		rows = rows[:p.Limit]
	}
	return rows, info
}
