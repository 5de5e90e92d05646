package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit plus either page (1-based) or offset. page wins
// when both are given.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("page_size"))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if page, err := strconv.Atoi(c.QueryParam("page")); err == nil && page > 0 {
		offset = (page - 1) * limit
	}
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Page returns the 1-based page number the offset falls on.
func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Sort is a validated ordering request.
type Sort struct {
	Field string
	Desc  bool
}

// SortFromContext reads sort=<field> with order=asc|desc, or the shorthand
// sort=-<field> for descending. Fields outside allowed fall back to def,
// which sorts descending unless order=asc is given.
func SortFromContext(c echo.Context, allowed []string, def string) Sort {
	field := strings.TrimSpace(c.QueryParam("sort"))
	desc := true
	if strings.HasPrefix(field, "-") {
		field = field[1:]
	} else if field != "" {
		desc = false
	}
	switch strings.ToLower(c.QueryParam("order")) {
	case "asc":
		desc = false
	case "desc":
		desc = true
	}

	for _, a := range allowed {
		if a == field {
			return Sort{Field: field, Desc: desc}
		}
	}
	if c.QueryParam("order") == "" {
		desc = true
	}
	return Sort{Field: def, Desc: desc}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Page    int         `json:"page"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	p := Params{Limit: limit, Offset: offset}
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Page:    p.Page(),
		HasMore: p.HasNext(total),
	}
}
