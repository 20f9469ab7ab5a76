package responsewriter_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/middleware/responsewriter"
)

func TestResponseWriterMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "nothing written",
			handler:    func(http.ResponseWriter, *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name: "body without header",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusGone)
				w.WriteHeader(http.StatusOK)
			},
			wantStatus: http.StatusGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *responsewriter.Recorder
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var err error
				rec, err = responsewriter.RecorderFromContext(r.Context())
				//nolint:testifylint
				require.NoError(t, err)
				assert.Same(t, rec, w, "the handler must write through the recorder")
				tt.handler(w, r)
			})

			out := httptest.NewRecorder()
			responsewriter.ResponseWriterMiddleware(next).ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/test", nil))

			require.NotNil(t, rec)
			assert.Equal(t, tt.wantStatus, rec.Status())
			assert.Equal(t, tt.wantStatus, out.Code)
		})
	}
}

func TestRecorderFromContext_Missing(t *testing.T) {
	_, err := responsewriter.RecorderFromContext(t.Context())
	assert.Error(t, err)
}
