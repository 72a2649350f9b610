package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/pkg/httpmiddleware"
)

// fail maps a service error to its HTTP status. Internal errors are logged
// and reported with a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		conflict   *apperr.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		httpmiddleware.WriteError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		w.Header().Set("Retry-After", "0")
		httpmiddleware.WriteError(w, http.StatusConflict, conflict.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
