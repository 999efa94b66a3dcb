// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/communitrade/matching-engine/app/dto"
	businessflow "github.com/communitrade/matching-engine/business_flow"
	"github.com/communitrade/matching-engine/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// MatchingHandlerInterface defines the contract for matching engine handlers.
type MatchingHandlerInterface interface {
	GetConfig(c fiber.Ctx) error
	UpdateConfig(c fiber.Ctx) error
	ClearCache(c fiber.Ctx) error
	Run(c fiber.Ctx) error
	Stats(c fiber.Ctx) error
}

// MatchingHandler handles config, scoring pass, and analytics requests.
type MatchingHandler struct {
	configFlow   businessflow.MatchConfigFlow
	matchingFlow businessflow.MatchingFlow
	statsFlow    businessflow.StatsFlow
	validator    *validator.Validate
}

// NewMatchingHandler creates a new matching handler.
func NewMatchingHandler(
	configFlow businessflow.MatchConfigFlow,
	matchingFlow businessflow.MatchingFlow,
	statsFlow businessflow.StatsFlow,
) *MatchingHandler {
	return &MatchingHandler{
		configFlow:   configFlow,
		matchingFlow: matchingFlow,
		statsFlow:    statsFlow,
		validator:    validator.New(),
	}
}

func (h *MatchingHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *MatchingHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// GetConfig returns the tenant's matching configuration.
// @Summary Get matching config
// @Description Get the tenant's matching configuration, provisioning defaults on first access
// @Tags Matching
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.MatchConfigResponse} "Retrieved"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/config [get]
func (h *MatchingHandler) GetConfig(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	res, err := h.configFlow.GetConfig(h.createRequestContext(c, "/api/v1/matching/config"), tenantID)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load matching config", "MATCH_CONFIG_LOAD_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Matching config retrieved", res)
}

// UpdateConfig applies a partial config update.
// @Summary Update matching config
// @Description Merge the given fields into the stored config and validate the result as a whole
// @Tags Matching
// @Accept json
// @Produce json
// @Param request body dto.UpdateMatchConfigRequest true "Config update payload"
// @Success 200 {object} dto.APIResponse{data=dto.MatchConfigResponse} "Updated"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/config [put]
func (h *MatchingHandler) UpdateConfig(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	var req dto.UpdateMatchConfigRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, e := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(e))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	res, err := h.configFlow.UpdateConfig(h.createRequestContext(c, "/api/v1/matching/config"), tenantID, &req, metadata)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok {
			switch be.Code {
			case "MATCH_CONFIG_UPDATE_FAILED":
				if businessflow.IsConfigUpdateEmpty(err) {
					return h.ErrorResponse(c, fiber.StatusBadRequest, "At least one field must be provided", be.Code, be.Error())
				}
			case "MATCH_CONFIG_VALIDATION_FAILED":
				return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Config validation failed", be.Code, be.Error())
			}
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update matching config", "MATCH_CONFIG_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Matching config updated successfully", res)
}

// ClearCache drops every cached match set for the tenant.
// @Summary Clear match cache
// @Description Drop all cached match sets for the tenant
// @Tags Matching
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ClearCacheResponse} "Cleared"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 503 {object} dto.APIResponse "Cache unavailable"
// @Router /api/v1/matching/cache/clear [post]
func (h *MatchingHandler) ClearCache(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	res, err := h.configFlow.ClearCache(h.createRequestContext(c, "/api/v1/matching/cache/clear"), tenantID)
	if err != nil {
		if businessflow.IsCacheUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Match cache unavailable", "CACHE_UNAVAILABLE", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to clear match cache", "MATCH_CACHE_CLEAR_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Match cache cleared", res)
}

// Run triggers a scoring pass for one subject.
// @Summary Run matching
// @Description Return the classified candidate set for a subject, computing it on cache miss
// @Tags Matching
// @Accept json
// @Produce json
// @Param request body dto.RunMatchingRequest true "Subject user and listing"
// @Success 200 {object} dto.APIResponse{data=dto.RunMatchingResponse} "Computed"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 403 {object} dto.APIResponse "Matching disabled"
// @Failure 404 {object} dto.APIResponse "Subject not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/run [post]
func (h *MatchingHandler) Run(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	var req dto.RunMatchingRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, e := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(e))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	res, err := h.matchingFlow.RunMatching(h.createRequestContextWithTimeout(c, "/api/v1/matching/run", 60*time.Second), tenantID, &req, metadata)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok {
			switch be.Code {
			case "MATCHING_DISABLED":
				return h.ErrorResponse(c, fiber.StatusForbidden, "Matching is disabled for this tenant", be.Code, be.Error())
			case "SUBJECT_NOT_FOUND":
				return h.ErrorResponse(c, fiber.StatusNotFound, "Subject listing not found", be.Code, be.Error())
			case "SUBJECT_USER_MISMATCH":
				return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Listing does not belong to this user", be.Code, be.Error())
			case "SUBJECT_INACTIVE":
				return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Subject listing is inactive", be.Code, be.Error())
			}
		}
		if businessflow.IsCacheUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Match cache unavailable", "CACHE_UNAVAILABLE", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to run matching", "MATCHING_RUN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Matching completed", res)
}

// Stats returns the analytics dashboard aggregates.
// @Summary Matching stats
// @Description Aggregate match data over a rolling window
// @Tags Matching
// @Produce json
// @Param days query int false "Rolling window in days (1-365, default 30)"
// @Success 200 {object} dto.APIResponse{data=dto.MatchingStatsResponse} "Retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid window"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/stats [get]
func (h *MatchingHandler) Stats(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	days := 0
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "days must be a number", "INVALID_WINDOW", nil)
		}
		days = parsed
	}

	res, err := h.statsFlow.Stats(h.createRequestContext(c, "/api/v1/matching/stats"), tenantID, days)
	if err != nil {
		if businessflow.IsInvalidWindowDays(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Window must be between 1 and 365 days", "INVALID_WINDOW", nil)
		}
		if businessflow.IsCacheUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Match cache unavailable", "CACHE_UNAVAILABLE", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute matching stats", "MATCH_STATS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Matching stats retrieved", res)
}

func (h *MatchingHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *MatchingHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	if tenantID, ok := c.Locals("tenant_id").(string); ok && tenantID != "" {
		ctx = context.WithValue(ctx, utils.TenantIDKey, tenantID)
	}
	if reviewerID, ok := c.Locals("reviewer_id").(uint); ok && reviewerID != 0 {
		ctx = context.WithValue(ctx, utils.ReviewerIDKey, reviewerID)
	}
	return ctx
}
