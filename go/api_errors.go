package catalogserver

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	aspectsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	aspectsports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	propagationapp "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/application"
	propagationdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	viewsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	apierrors "github.com/Apurer/go-catalog-pipeline/internal/shared/errors"
)

var responder = apierrors.NewResponder("", rejectionProblem, lookupProblem)

func respondError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	responder.RespondError(c, err)
}

func respondBadRequest(c *gin.Context, err error) {
	responder.Respond(c, apierrors.ErrBadRequest.WithDetail(err.Error()))
}

// rejectionProblem maps the write path outcomes.
func rejectionProblem(err error) (apierrors.ProblemDetail, bool) {
	if rejection, ok := application.RejectionOf(err); ok {
		reason := string(rejection.Reason)
		switch rejection.Reason {
		case application.ReasonSchemaInvalid:
			return apierrors.ErrSchemaInvalid.WithDetail(rejection.Detail).WithReason(reason), true
		case application.ReasonUnauthorized:
			return apierrors.ErrForbidden.WithDetail(rejection.Detail).WithReason(reason), true
		case application.ReasonConflict:
			return apierrors.ErrConflict.WithDetail(rejection.Detail).WithReason(reason), true
		default:
			return apierrors.ErrUnavailable.WithDetail(rejection.Detail).WithReason(reason), true
		}
	}
	switch {
	case errors.Is(err, aspectsports.ErrIdempotencyConflict):
		return apierrors.ErrIdempotencyConflict.WithDetail(err.Error()), true
	case errors.Is(err, aspectsports.ErrUnauthorized):
		return apierrors.ErrUnauthorized.WithDetail(err.Error()).WithReason(string(application.ReasonUnauthorized)), true
	case errors.Is(err, aspectsdomain.ErrInvalidUrn):
		return apierrors.ErrSchemaInvalid.WithDetail(err.Error()).WithReason(string(application.ReasonSchemaInvalid)), true
	case errors.Is(err, aspectsports.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return apierrors.ErrUnavailable.WithDetail(err.Error()).WithReason(string(application.ReasonUnavailable)), true
	}
	return apierrors.ProblemDetail{}, false
}

// lookupProblem maps read path and admin outcomes.
func lookupProblem(err error) (apierrors.ProblemDetail, bool) {
	switch {
	case errors.Is(err, aspectsports.ErrNotFound),
		errors.Is(err, viewsdomain.ErrDocumentNotFound),
		errors.Is(err, propagationdomain.ErrDeadLetterNotFound),
		errors.Is(err, propagationapp.ErrUnknownGroup):
		return apierrors.ErrNotFound.WithDetail(err.Error()), true
	case errors.Is(err, viewsdomain.ErrNotYetConsistent):
		return apierrors.ErrNotYetConsistent.WithDetail(err.Error()), true
	case errors.Is(err, viewsdomain.ErrUnknownView):
		return apierrors.ErrBadRequest.WithDetail(err.Error()), true
	}
	return apierrors.ProblemDetail{}, false
}
