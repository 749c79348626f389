package model

// APIResponse is the envelope for every session and user endpoint. Data
// carries a PublicUser, a TokenPair or a list; failures fill Error instead.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

// APIError.Code is the stable machine value (TOKEN_EXPIRED, ALREADY_EXISTS,
// ...) clients branch on. Store failures never leak into Details.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Meta paginates list results such as the audit trail.
type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
