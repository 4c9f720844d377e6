package gorm

import (
	"net/http"
	"strconv"
)

// MaxPaginationLimit caps any page size accepted from a request.
const MaxPaginationLimit = 1000

// ParseLimitParam parses the "limit" query parameter, capped at maxLimit
// (MaxPaginationLimit when maxLimit is 0). Missing or invalid values give defaultLimit.
func ParseLimitParam(r *http.Request, defaultLimit, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = MaxPaginationLimit
	}
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return min(limit, maxLimit)
}

// ParseOffsetParam parses the "offset" query parameter. Returns 0 if missing or invalid.
func ParseOffsetParam(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// ParsePageParam parses the 1-based "page" query parameter.
func ParsePageParam(r *http.Request) int {
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 1
}

// ParseBoolParam parses an optional boolean query parameter. It returns nil
// when the parameter is absent or not a boolean.
func ParseBoolParam(r *http.Request, name string) *bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
