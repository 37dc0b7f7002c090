package server

import (
	"errors"
	"net/http"

	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	dispatchdomain "github.com/fieldline/fieldline/internal/dispatch/domain"
	finalizedomain "github.com/fieldline/fieldline/internal/finalize/domain"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	plandomain "github.com/fieldline/fieldline/internal/plan/domain"
	"github.com/gin-gonic/gin"
)

type errorPayload struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Severity      string `json:"severity,omitempty"`
	BillingError  bool   `json:"billing_error,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var billingErr *finalizedomain.BillingError
	if errors.As(err, &billingErr) {
		// The action ran but billing could not be confirmed. Escalated,
		// awaiting manual reconciliation.
		return http.StatusInternalServerError, errorPayload{
			Type:          "billing_finalize_failed",
			Message:       "action performed but billing could not be confirmed",
			Severity:      "critical",
			BillingError:  true,
			ReservationID: billingErr.ReservationID.String(),
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, packdomain.ErrInvalidTenant),
		errors.Is(err, packdomain.ErrInvalidResource),
		errors.Is(err, ledgerdomain.ErrInvalidTenant),
		errors.Is(err, ledgerdomain.ErrInvalidResource),
		errors.Is(err, plandomain.ErrInvalidTenant),
		errors.Is(err, plandomain.ErrInvalidResource),
		errors.Is(err, compdomain.ErrInvalidReservation):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "invalid request",
		}
	case errors.Is(err, dispatchdomain.ErrQuotaExhausted),
		errors.Is(err, packdomain.ErrNoPackAvailable):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "quota_exhausted",
			Message: "plan quota spent and no pack units remain",
		}
	case errors.Is(err, packdomain.ErrReleaseCommitted),
		errors.Is(err, packdomain.ErrReservationResolved):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "reservation already resolved",
		}
	case errors.Is(err, packdomain.ErrReservationNotFound),
		errors.Is(err, compdomain.ErrCompensationNotFound),
		errors.Is(err, plandomain.ErrNoQuotaConfigured):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
