package responses

// SuccessEnvelope wraps every 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorEnvelope wraps every 4xx and 5xx body. RequestID echoes X-Request-Id
// so support can find the matching log lines.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
