package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	activitydomain "github.com/warebill/warebill/internal/activity/domain"
	auditdomain "github.com/warebill/warebill/internal/audit/domain"
	contractdomain "github.com/warebill/warebill/internal/contract/domain"
	customerdomain "github.com/warebill/warebill/internal/customer/domain"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Conflict set when a rate card write collided with an existing
	// interval, so the client can show which card blocks it.
	Conflict *conflictDetail `json:"conflict,omitempty"`
}

type conflictDetail struct {
	CardID        string  `json:"card_id"`
	CardName      string  `json:"card_name"`
	Version       int     `json:"version"`
	EffectiveDate string  `json:"effective_date"`
	ExpiresDate   *string `json:"expires_date,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts errors attached to the context into a
// JSON error response. Handlers call AbortWithError and return.
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

var errInvalidRequest = errors.New("invalid_request")

// Validation failures across the feature domains. Each maps to 400 with
// its sentinel message as the code.
var validationErrors = []error{
	errInvalidRequest,
	customerdomain.ErrInvalidName,
	customerdomain.ErrInvalidCode,
	customerdomain.ErrInvalidEmail,
	customerdomain.ErrInvalidID,
	customerdomain.ErrInvalidPageToken,
	contractdomain.ErrInvalidCustomer,
	contractdomain.ErrInvalidName,
	contractdomain.ErrInvalidID,
	contractdomain.ErrInvalidDateRange,
	activitydomain.ErrInvalidCustomer,
	activitydomain.ErrInvalidQuantity,
	activitydomain.ErrInvalidOccurredAt,
	activitydomain.ErrInvalidPeriod,
	activitydomain.ErrInvalidID,
	activitydomain.ErrInvalidReason,
	invoicedomain.ErrInvalidCustomer,
	invoicedomain.ErrInvalidPeriod,
	invoicedomain.ErrInvalidID,
	invoicedomain.ErrInvalidAmount,
	ratingdomain.ErrInvalidActivityType,
	ratingdomain.ErrInvalidCustomer,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var notFoundErrors = []error{
	customerdomain.ErrNotFound,
	contractdomain.ErrNotFound,
	activitydomain.ErrNotFound,
	invoicedomain.ErrNotFound,
	gorm.ErrRecordNotFound,
}

// State errors: the resource exists but refuses the transition.
var stateErrors = []error{
	contractdomain.ErrAlreadyActive,
	contractdomain.ErrTerminated,
	invoicedomain.ErrNotDraft,
	invoicedomain.ErrNotIssued,
	invoicedomain.ErrAlreadyPaid,
	invoicedomain.ErrVoided,
}

var conflictErrors = []error{
	customerdomain.ErrDuplicateCode,
	contractdomain.ErrNotOwned,
	activitydomain.ErrAlreadyCorrected,
	activitydomain.ErrCorrectionChain,
	invoicedomain.ErrOverpayment,
	ratecarddomain.ErrConcurrentModification,
}

func matchesAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

func mapError(err error) (int, errorPayload) {
	var cErr *ratecarddomain.ConflictError
	if errors.As(err, &cErr) {
		detail := &conflictDetail{
			CardID:        cErr.CardID,
			CardName:      cErr.CardName,
			Version:       cErr.Version,
			EffectiveDate: cErr.EffectiveDate.Format("2006-01-02"),
		}
		if cErr.ExpiresDate != nil {
			s := cErr.ExpiresDate.Format("2006-01-02")
			detail.ExpiresDate = &s
		}
		return http.StatusConflict, errorPayload{
			Type:     "conflict",
			Code:     "date_conflict",
			Message:  cErr.Error(),
			Conflict: detail,
		}
	}

	switch {
	case ratecarddomain.IsValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "validation error",
		}
	case ratecarddomain.IsNotFound(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    err.Error(),
			Message: "not found",
		}
	case ratecarddomain.IsStateError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "state_error",
			Code:    err.Error(),
			Message: err.Error(),
		}
	case ratecarddomain.IsConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    err.Error(),
			Message: err.Error(),
		}
	}

	if target := matchesAny(err, validationErrors); target != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    target.Error(),
			Message: "validation error",
		}
	}
	if target := matchesAny(err, notFoundErrors); target != nil {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    target.Error(),
			Message: "not found",
		}
	}
	if target := matchesAny(err, stateErrors); target != nil {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "state_error",
			Code:    target.Error(),
			Message: target.Error(),
		}
	}
	if target := matchesAny(err, conflictErrors); target != nil {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    target.Error(),
			Message: target.Error(),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Code:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog feeds the request logger's error fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "internal", payload.Code
	default:
		return payload.Type, payload.Code
	}
}
