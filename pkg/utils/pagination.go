package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// HistoryParams are the query parameters accepted by message history endpoints.
// Page is 1-based and counts backwards from the newest message; Before is an
// opaque cursor returned by a previous call. Before wins when both are set.
type HistoryParams struct {
	Page     int
	PageSize int
	Before   string
}

// GetHistoryParams extracts history pagination parameters from request
func GetHistoryParams(c echo.Context) HistoryParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))

	if page <= 0 {
		page = 1
	}

	return HistoryParams{
		Page:     page,
		PageSize: ClampPageSize(pageSize),
		Before:   c.QueryParam("before"),
	}
}

func ClampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return MaxPageSize
	}
	return pageSize
}

// EncodeCursor turns a message sequence number into an opaque history cursor.
func EncodeCursor(seq int64) string {
	if seq <= 1 {
		return ""
	}
	return strconv.FormatInt(seq, 36)
}

// DecodeCursor reverses EncodeCursor. An empty cursor decodes to 0, meaning "newest".
func DecodeCursor(cursor string) (int64, bool) {
	if cursor == "" {
		return 0, true
	}
	seq, err := strconv.ParseInt(cursor, 36, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}
