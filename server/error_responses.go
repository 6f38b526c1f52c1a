// Helpers for building various types of error responses.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/Shyp/rest"

	"github.com/arkstead/keepsake/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func new404(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:    "Resource not found",
		ID:       "not_found",
		Instance: r.URL.Path,
		Status:   404,
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, new404(r))
}

func authenticate(w http.ResponseWriter, r *http.Request, aerr *rest.Error) {
	w.Header().Set("WWW-Authenticate", `Basic realm="keepsake"`)
	aerr.Instance = r.URL.Path
	aerr.Status = http.StatusUnauthorized
	writeJSON(w, http.StatusUnauthorized, aerr)
}

func forbidden(w http.ResponseWriter, r *http.Request, title string) {
	writeJSON(w, http.StatusForbidden, &rest.Error{
		Title:    title,
		ID:       "forbidden",
		Instance: r.URL.Path,
		Status:   http.StatusForbidden,
	})
}

// statusFor maps the error taxonomy onto response codes.
func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeConflict:
		return http.StatusConflict
	case models.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	terr := models.Classify(err)
	status := statusFor(terr.Code)
	writeJSON(w, status, &rest.Error{
		Title:    terr.Message,
		ID:       string(terr.Code),
		Instance: r.URL.Path,
		Status:   status,
	})
}
