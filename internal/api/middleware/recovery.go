package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/weatherdash/weatherdash/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem and marks the request
// span as failed. http.ErrAbortHandler is re-raised for net/http to handle.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rv := recover(); rv != nil {
					if err, ok := rv.(error); ok && errors.Is(err, http.ErrAbortHandler) {
						panic(rv)
					}
					recovered(log, w, r, rv)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func recovered(log zerolog.Logger, w http.ResponseWriter, r *http.Request, rv any) {
	ctx := r.Context()
	requestID := GetRequestID(ctx)

	span := trace.SpanFromContext(ctx)
	span.RecordError(fmt.Errorf("panic: %v", rv), trace.WithStackTrace(true))
	span.SetStatus(codes.Error, "panic")

	log.Error().
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Interface("panic", rv).
		Bytes("stack", debug.Stack()).
		Msg("panic recovered")

	problem := models.NewInternalError(requestID, "an unexpected error occurred")
	problem.Instance = r.URL.Path
	problem.Write(w)
}
