package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/onetimesecret/billing/internal/billing/conflict"
	billingdomain "github.com/onetimesecret/billing/internal/billing/domain"
	obscontext "github.com/onetimesecret/billing/internal/observability/context"
	stripe "github.com/stripe/stripe-go/v82"
)

type assessMigrationRequest struct {
	OrgID             string `json:"org_id"`
	CustomerID        string `json:"customer_id"`
	ExistingCurrency  string `json:"existing_currency"`
	RequestedCurrency string `json:"requested_currency"`
	TargetPriceID     string `json:"target_price_id"`
}

func (s *Server) AssessMigration(c *gin.Context) {
	var req assessMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ExistingCurrency) == "" {
		AbortWithError(c, newValidationError("existing_currency", "required", "existing currency is required"))
		return
	}

	orgID, ok := s.parseOrgID(c, req.OrgID, strings.TrimSpace(req.CustomerID) == "")
	if !ok {
		return
	}
	if orgID != 0 {
		c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), orgID.String()))
	}

	assessment, err := s.billingSvc.AssessMigration(c.Request.Context(), billingdomain.AssessRequest{
		OrgID:             orgID,
		CustomerID:        strings.TrimSpace(req.CustomerID),
		ExistingCurrency:  req.ExistingCurrency,
		RequestedCurrency: req.RequestedCurrency,
		TargetPriceID:     strings.TrimSpace(req.TargetPriceID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

type gracefulMigrationRequest struct {
	OrgID         string `json:"org_id"`
	TargetPriceID string `json:"target_price_id"`
}

func (s *Server) GracefulMigration(c *gin.Context) {
	var req gracefulMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.TargetPriceID) == "" {
		AbortWithError(c, newValidationError("target_price_id", "required", "target price id is required"))
		return
	}
	orgID, ok := s.parseOrgID(c, req.OrgID, true)
	if !ok {
		return
	}
	c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), orgID.String()))

	result, err := s.billingSvc.ExecuteGracefulMigration(c.Request.Context(), orgID, req.TargetPriceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type immediateMigrationRequest struct {
	OrgID         string `json:"org_id"`
	TargetPriceID string `json:"target_price_id"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

func (s *Server) ImmediateMigration(c *gin.Context) {
	var req immediateMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.TargetPriceID) == "" {
		AbortWithError(c, newValidationError("target_price_id", "required", "target price id is required"))
		return
	}
	orgID, ok := s.parseOrgID(c, req.OrgID, true)
	if !ok {
		return
	}
	c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), orgID.String()))

	result, err := s.billingSvc.ExecuteImmediateMigration(c.Request.Context(), orgID, billingdomain.ImmediateRequest{
		TargetPriceID: req.TargetPriceID,
		SuccessURL:    strings.TrimSpace(req.SuccessURL),
		CancelURL:     strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type classifyConflictRequest struct {
	Message               string `json:"message"`
	ErrorType             string `json:"error_type"`
	RequestedCurrencyHint string `json:"requested_currency_hint"`
}

// ClassifyConflict replays a provider rejection through the conflict
// classifier. Callers use it to decide whether to offer the migration
// flow after a failed checkout attempt.
func (s *Server) ClassifyConflict(c *gin.Context) {
	var req classifyConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		AbortWithError(c, newValidationError("message", "required", "message is required"))
		return
	}

	errorType := stripe.ErrorType(strings.TrimSpace(req.ErrorType))
	if errorType == "" {
		errorType = stripe.ErrorTypeInvalidRequest
	}
	providerErr := &stripe.Error{Type: errorType, Msg: req.Message}

	response := gin.H{
		"currency_conflict": conflict.IsCurrencyConflict(providerErr),
	}
	if parsed := conflict.Parse(providerErr, req.RequestedCurrencyHint); parsed != nil {
		response["conflict"] = parsed
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) parseOrgID(c *gin.Context, raw string, required bool) (snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			AbortWithError(c, newValidationError("org_id", "required", "org id is required"))
			return 0, false
		}
		return 0, true
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, newValidationError("org_id", "invalid_id", "invalid org id"))
		return 0, false
	}
	return orgID, true
}
