package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/errs"
)

// decodeJSON reads the request body into dst. A missing body decodes the
// zero value so optional-body endpoints (abort, gc) work without one.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validation("request body is not valid JSON.")
	}
	return nil
}

// writeJSON renders v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusForKind maps the error taxonomy to HTTP statuses. The mapping is
// total: anything unclassified is an internal error.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case errs.KindLocked:
		return http.StatusLocked
	case errs.KindDependencyUnavailable, errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the error envelope {"error": code, "message": human,
// ...context}. Internal causes are logged, never leaked to the client.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	kind := errs.KindOf(err)
	status := statusForKind(kind)

	envelope := map[string]interface{}{
		"error":   errs.CodeOf(err),
		"message": "internal error",
	}
	if e := errs.AsError(err); e != nil && kind != errs.KindInternal {
		envelope["message"] = e.Message
		for key, value := range e.Context {
			envelope[key] = value
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	}

	writeJSON(w, status, envelope)
}
