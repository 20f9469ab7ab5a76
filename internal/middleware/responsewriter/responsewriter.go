// Package responsewriter records the status code written by a handler, so
// that the request metrics can be labelled with it.
package responsewriter

import (
	"context"
	"errors"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type responseWriterKey string

// ResponseWriterKey is the context key for the recorder.
const ResponseWriterKey responseWriterKey = "response-writer"

// Recorder remembers the status code of the response it wraps.
type Recorder struct {
	http.ResponseWriter

	status int
}

func (r *Recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *Recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status code. A handler that wrote nothing
// answered with 200.
func (r *Recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ResponseWriterMiddleware wraps the response writer into a Recorder and
// injects it into the request context.
func ResponseWriterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &Recorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), ResponseWriterKey, rec)
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// RecorderFromContext retrieves the recorder injected by the middleware.
func RecorderFromContext(ctx context.Context) (*Recorder, error) {
	rec, ok := ctx.Value(ResponseWriterKey).(*Recorder)
	if !ok {
		return nil, errors.New("response writer not found in context")
	}
	return rec, nil
}
