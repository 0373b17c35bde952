package client

import "fmt"

// APIError is an error response from the server.
type APIError struct {
	status int
	err    string
	detail string
}

// NewAPIError constructs an APIError.
func NewAPIError(status int, err string, detail string) APIError {
	return APIError{
		status: status,
		err:    err,
		detail: detail,
	}
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s (%d)", e.err, e.status)
}

// Detail returns the server's suggestion for resolving the error, if any.
func (e APIError) Detail() string {
	return e.detail
}

// StatusCode returns the HTTP status of the response.
func (e APIError) StatusCode() int {
	return e.status
}

// Is returns true if the target error is an APIError.
func (e APIError) Is(target error) bool {
	_, ok := target.(APIError)
	return ok
}
