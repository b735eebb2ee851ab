package requests

import (
	"net/http"

	"github.com/reelhouse/reelhouse-api/config"
)

const requestIDParam = "requestID"

// GetRequestId returns the request's id header, generating and attaching one
// when the caller didn't send it.
func GetRequestId(req *http.Request) string {
	requestID := req.Header.Get(requestIDParam)
	if requestID != "" {
		return requestID
	}
	requestID = config.RandomTrailer(8)
	req.Header.Set(requestIDParam, requestID)
	return requestID
}
