package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID is the request ID, echoed in X-Request-Id.
	TraceID string `json:"traceId"`

	// Kind classifies a refresh failure (network, malformed_response,
	// location_unavailable, unknown).
	Kind string `json:"kind,omitempty"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types.
const (
	ProblemTypeValidation      = "https://weatherdash.dev/problems/validation-error"
	ProblemTypeNotFound        = "https://weatherdash.dev/problems/not-found"
	ProblemTypeTooManyRequests = "https://weatherdash.dev/problems/too-many-requests"
	ProblemTypeTLSRequired     = "https://weatherdash.dev/problems/tls-required"
	ProblemTypeInternal        = "https://weatherdash.dev/problems/internal-error"
	ProblemTypeRefreshFailed   = "https://weatherdash.dev/problems/refresh-failed"
)

type problemDef struct {
	title  string
	status int
}

var problemCatalog = map[string]problemDef{
	ProblemTypeValidation:      {"Validation error", http.StatusBadRequest},
	ProblemTypeNotFound:        {"Not found", http.StatusNotFound},
	ProblemTypeTooManyRequests: {"Too many requests", http.StatusTooManyRequests},
	ProblemTypeTLSRequired:     {"TLS required", http.StatusForbidden},
	ProblemTypeInternal:        {"Internal server error", http.StatusInternalServerError},
	ProblemTypeRefreshFailed:   {"Refresh failed", http.StatusServiceUnavailable},
}

// NewProblem builds a problem of a catalogued type. Unknown types become
// internal errors so a typo never produces a 200.
func NewProblem(problemType, traceID, detail string) *Problem {
	def, ok := problemCatalog[problemType]
	if !ok {
		problemType, def = ProblemTypeInternal, problemCatalog[ProblemTypeInternal]
	}
	return &Problem{
		Type:    problemType,
		Title:   def.title,
		Status:  def.status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	h.Set("Cache-Control", "no-store")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest reports invalid input, optionally per field.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, traceID, detail)
	p.Errors = errors
	return p
}

// NewNotFound reports an unknown route.
func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeNotFound, traceID, detail)
}

// NewTooManyRequests reports a rate limited request.
func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeTooManyRequests, traceID, detail)
}

// NewInternalError reports an unexpected failure.
func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInternal, traceID, detail)
}

// NewRefreshFailed reports a failed refresh. The previous snapshot stays
// available on GET.
func NewRefreshFailed(traceID, kind, detail string) *Problem {
	p := NewProblem(ProblemTypeRefreshFailed, traceID, detail)
	p.Kind = kind
	return p
}
