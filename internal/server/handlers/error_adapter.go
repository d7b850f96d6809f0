package handlers

import (
	"net/http"

	apperrors "github.com/pagegate/pagegate/internal/errors"
)

// httpErrorResponder writes error responses for every handler in this package.
var httpErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder lets the server install its central error handler. nil
// restores the default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
