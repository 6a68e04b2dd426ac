// Package dto provides request and response bodies of the HTTP API.
package dto

// ErrorResponse is the body written by the error middleware.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ListResponse wraps paginated results.
type ListResponse[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// DateLayout is the layout of date-only request fields.
const DateLayout = "2006-01-02"
