package server

import (
	"net/http"

	slogctx "github.com/veqryn/slog-context"
)

func pingHandlerFunc(w http.ResponseWriter, r *http.Request) {
	slogctx.Debug(r.Context(), "Answering ping")

	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"result": "ping"})
}
