package types

// SuccessEnvelope wraps every 2xx body as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error. Code is one of the pkg/errors codes;
// Details is only set for codes that allow it, such as the allocation result
// attached to ALREADY_RESOLVED.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every non-2xx body as {"error": ...}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
