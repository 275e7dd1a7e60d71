package blundrdto

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// APIError is returned by clients for non-2xx replies.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "blundrbot api error"
}

// Retryable reports whether the request may succeed on retry.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
