package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/reelhouse/reelhouse-api/errors"
)

type capacityReporter interface {
	Full() bool
}

// HasCapacity rejects job submissions before any handler work when the
// processing queue cannot accept another entry.
func HasCapacity(queue capacityReporter, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if queue.Full() {
			errors.WriteHTTPTooManyRequests(w, "Too many processing jobs in progress", nil)
			return
		}
		next(w, r, ps)
	}
}
