package apierr

import "time"

// Payload is the wire form of an error.
type Payload struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	TraceID   string         `json:"trace_id"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     string         `json:"cause,omitempty"`
	TS        string         `json:"ts,omitempty"`
}

// Envelope wraps Payload under the "error" key.
type Envelope struct {
	Error Payload `json:"error"`
}

// ToEnvelope renders e for the response body.
func (e *Error) ToEnvelope(traceID string, now time.Time) Envelope {
	return Envelope{Error: Payload{
		Code:      e.Code,
		Message:   e.Message,
		TraceID:   traceID,
		Retryable: e.Retryable,
		Details:   e.Details,
		Cause:     e.Cause,
		TS:        now.UTC().Format(time.RFC3339Nano),
	}}
}
