package handler

import (
	"net/http"
	"strconv"
)

// Page sizes for the message-history and leaderboard listings.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit and offset query parameters, clamping both to
// sane bounds. A 1-based page parameter is accepted in place of offset.
func ParsePagination(r *http.Request) PaginationParams {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	if offset <= 0 {
		offset = 0
		if page, _ := strconv.Atoi(query.Get("page")); page > 1 {
			offset = (page - 1) * limit
		}
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}
