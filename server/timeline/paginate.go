package timeline

import "github.com/ctolnik/office-insight/server/database"

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

type Pagination struct {
	Total       int `json:"total"`
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	PageSize    int `json:"pageSize"`
}

// Filter keeps entries matching the optional type and user.
func Filter(entries []Entry, logType database.LogType, user string) []Entry {
	if logType == "" && user == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if logType != "" && e.Type != logType {
			continue
		}
		if user != "" && e.User != user {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Paginate slices an already sorted list. Pages are 1-based; a page past the
// end is empty. Limits above MaxPageSize are clamped.
func Paginate[T any](items []T, page, limit int) ([]T, Pagination) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	if page <= 0 {
		page = 1
	}
	total := len(items)
	p := Pagination{
		Total:       total,
		CurrentPage: page,
		TotalPages:  (total + limit - 1) / limit,
		PageSize:    limit,
	}

	if page > p.TotalPages {
		return []T{}, p
	}
	start := (page - 1) * limit
	end := min(start+limit, total)
	return items[start:end], p
}
