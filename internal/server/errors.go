package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/onetimesecret/billing/internal/billing/domain"
	catalogdomain "github.com/onetimesecret/billing/internal/catalog/domain"
	orgdomain "github.com/onetimesecret/billing/internal/organization/domain"
	stripe "github.com/stripe/stripe-go/v82"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Message }

func newValidationError(field, code, message string) *apiError {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    code,
		Field:   field,
		Message: message,
	}
}

func invalidRequestError() *apiError {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: "request body could not be parsed",
	}
}

// AbortWithError maps domain errors onto HTTP responses. Provider
// failures surface as 502 without echoing Stripe's message verbatim.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	var miss *catalogdomain.MissError
	if errors.As(err, &miss) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": gin.H{
			"code":     miss.OpsCode(),
			"price_id": miss.PriceID,
			"message":  "price id is not in the plan catalog",
		}})
		return
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": gin.H{
			"code":    "provider_error",
			"message": "billing provider rejected the request",
		}})
		return
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "authentication required"}})
	case errors.Is(err, ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "forbidden", "message": "access denied"}})
	case errors.Is(err, ErrNotFound), errors.Is(err, orgdomain.ErrOrganizationNotFound), errors.Is(err, catalogdomain.ErrPlanNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "resource not found"}})
	case errors.Is(err, ErrServiceUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": "service_unavailable", "message": "service unavailable"}})
	case isValidationSentinel(err):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": err.Error(), "message": "invalid request"}})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal_error", "message": "internal server error"}})
	}
}

func isValidationSentinel(err error) bool {
	switch {
	case errors.Is(err, billingdomain.ErrInvalidPriceID),
		errors.Is(err, billingdomain.ErrInvalidCurrency),
		errors.Is(err, billingdomain.ErrInvalidCustomer),
		errors.Is(err, billingdomain.ErrNoActiveSubscription),
		errors.Is(err, catalogdomain.ErrInvalidPriceID),
		errors.Is(err, catalogdomain.ErrInvalidPlanID),
		errors.Is(err, orgdomain.ErrInvalidOrganization),
		errors.Is(err, orgdomain.ErrInvalidPriceID):
		return true
	default:
		return false
	}
}
