package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tableside/internal/audit/domain"
	"github.com/smallbiznis/tableside/internal/auth/token"
	"github.com/smallbiznis/tableside/internal/authorization"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if code, ok := lifecycleConflictCode(err); ok {
		return http.StatusConflict, errorPayload{
			Type:    code,
			Message: strings.ReplaceAll(code, "_", " "),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, token.ErrMissingToken),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidRestaurant):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, orderdomain.ErrActorNotPermitted):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// lifecycleConflictCode reports the public code for state machine refusals.
// The specific coded errors are checked before their broader class.
func lifecycleConflictCode(err error) (string, bool) {
	var coded *orderdomain.CodedError
	if errors.As(err, &coded) {
		switch coded {
		case orderdomain.ErrTerminalState:
			return coded.Code, true
		case orderdomain.ErrReasonRequired, orderdomain.ErrInvalidStatus, orderdomain.ErrActorNotPermitted:
			return "", false
		}
	}
	switch {
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		return "invalid_transition", true
	case errors.Is(err, orderdomain.ErrPaymentPrecondition):
		return "payment_precondition", true
	case errors.Is(err, orderdomain.ErrAlreadyPaid):
		return "already_paid", true
	case errors.Is(err, orderdomain.ErrConcurrentUpdate):
		return "concurrent_update", true
	default:
		return "", false
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orderdomain.ErrReasonRequired),
		errors.Is(err, orderdomain.ErrInvalidStatus),
		errors.Is(err, orderdomain.ErrInvalidOrderID),
		errors.Is(err, orderdomain.ErrEmptyOrder),
		errors.Is(err, orderdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrInvalidPrice),
		errors.Is(err, orderdomain.ErrInvalidItemName),
		errors.Is(err, orderdomain.ErrInvalidPaymentMethod),
		errors.Is(err, orderdomain.ErrInsufficientPayment),
		errors.Is(err, pushdomain.ErrInvalidToken),
		errors.Is(err, pushdomain.ErrInvalidPlatform),
		errors.Is(err, pushdomain.ErrInvalidUser),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	var coded *orderdomain.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	for _, sentinel := range []error{
		ErrInvalidRequest,
		orderdomain.ErrInvalidOrderID,
		orderdomain.ErrEmptyOrder,
		orderdomain.ErrInvalidQuantity,
		orderdomain.ErrInvalidPrice,
		orderdomain.ErrInvalidItemName,
		orderdomain.ErrInvalidPaymentMethod,
		orderdomain.ErrInsufficientPayment,
		pushdomain.ErrInvalidToken,
		pushdomain.ErrInvalidPlatform,
		pushdomain.ErrInvalidUser,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "reason_required":
		return "reason"
	case "empty_order", "invalid_quantity", "invalid_price", "invalid_item_name":
		return "items"
	case "insufficient_payment":
		return "amount"
	case "invalid_payment_method":
		return "method"
	case "invalid_order_id":
		return "id"
	}
	if field, ok := strings.CutPrefix(code, "invalid_"); ok {
		return field
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "reason_required":
		return "a rejection reason is required"
	case "empty_order":
		return "an order needs at least one item"
	case "insufficient_payment":
		return "tendered amount is below the order total"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status == http.StatusBadRequest && len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
