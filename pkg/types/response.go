package types

// Envelope is the body shape of every API response.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

// APIError is the data payload attached to error envelopes.
type APIError struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Page wraps a cursor-paginated list.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
