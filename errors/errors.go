package errors

import (
	"encoding/json"
	"net/http"

	"github.com/reelhouse/reelhouse-api/log"
)

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHTTPError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); encErr != nil {
		log.LogNoJobID("error writing HTTP error", "http_error_msg", msg, "error", encErr)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPForbidden(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusForbidden, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPConflict(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusConflict, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPPayloadTooLarge(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusRequestEntityTooLarge, err)
}

func WriteHTTPTooManyRequests(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusTooManyRequests, err)
}

func WriteHTTPRangeNotSatisfiable(w http.ResponseWriter, size int64, msg string, err error) apiError {
	w.Header().Set("Content-Range", contentRangeUnsatisfied(size))
	return writeHTTPError(w, msg, http.StatusRequestedRangeNotSatisfiable, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusInternalServerError, err)
}
