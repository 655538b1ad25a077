package remote

import (
	"fmt"
	"net/http"
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("http %d %s %s", e.StatusCode, e.Method, e.Path)
}

// HTTPStatus exposes the status to model.StatusCode.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// IsNotFound reports a 404.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports a 409.
func (e *HTTPError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

const maxErrorBody = 4096
