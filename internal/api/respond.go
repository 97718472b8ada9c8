package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperr "parkd/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the typed error shape. Server side failures are
// logged with the request path.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	he := apperr.ToHTTP(err)
	if he.Code >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	he.Write(w)
}
