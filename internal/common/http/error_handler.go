package http

import (
	"net/http"
	"strconv"

	commonerrors "github.com/boxchat/authd/internal/common/errors"
	"github.com/boxchat/authd/internal/common/httpmetrics"
	"github.com/boxchat/authd/internal/common/logger"
	"github.com/boxchat/authd/internal/observability/metrics"
)

// HandleError maps domain errors to their HTTP status and collapses
// everything else into a generic 500. Internal detail is logged, never
// returned to the client.
func HandleError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	if err == nil {
		return
	}

	ctx := r.Context()

	if domainErr, ok := commonerrors.AsDomainError(err); ok {
		status := domainErr.HTTPStatus()

		log.WithFields(ctx, logger.Fields{
			"error_code": domainErr.Code(),
			"category":   string(domainErr.Category()),
			"status":     status,
		}).Debugf("domain error: %s", domainErr.Error())

		metrics.DomainErrorsTotal.WithLabelValues(
			string(domainErr.Category()),
			domainErr.Code(),
			strconv.Itoa(status),
		).Inc()
		metrics.HTTPErrorsTotal.WithLabelValues(
			strconv.Itoa(status),
			httpmetrics.NormalizePath(r.URL.Path),
			r.Method,
		).Inc()

		WriteError(w, status, domainErr.Message())
		return
	}

	log.WithFields(ctx, logger.Fields{
		"error": err.Error(),
	}).Errorf("unhandled error: %v", err)

	metrics.HTTPErrorsTotal.WithLabelValues(
		strconv.Itoa(http.StatusInternalServerError),
		httpmetrics.NormalizePath(r.URL.Path),
		r.Method,
	).Inc()

	WriteError(w, http.StatusInternalServerError, "internal server error")
}
