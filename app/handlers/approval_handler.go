// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/communitrade/matching-engine/app/dto"
	businessflow "github.com/communitrade/matching-engine/business_flow"
	"github.com/communitrade/matching-engine/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ApprovalHandlerInterface defines the contract for broker approval handlers.
type ApprovalHandlerInterface interface {
	List(c fiber.Ctx) error
	Approve(c fiber.Ctx) error
	Reject(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// ApprovalHandler handles the broker review queue requests.
type ApprovalHandler struct {
	approvalFlow businessflow.ApprovalFlow
	reportFlow   businessflow.ReportFlow
	validator    *validator.Validate
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(approvalFlow businessflow.ApprovalFlow, reportFlow businessflow.ReportFlow) *ApprovalHandler {
	return &ApprovalHandler{
		approvalFlow: approvalFlow,
		reportFlow:   reportFlow,
		validator:    validator.New(),
	}
}

func (h *ApprovalHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ApprovalHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// List returns one page of the approval queue.
// @Summary List approvals
// @Description List match records awaiting review, oldest first
// @Tags Approvals
// @Produce json
// @Param status query string false "Filter by status (pending, approved, rejected)"
// @Param page query int false "Page number (default 1)"
// @Success 200 {object} dto.APIResponse{data=dto.ListApprovalsResponse} "Retrieved"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/approvals [get]
func (h *ApprovalHandler) List(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	req := dto.ListApprovalsRequest{
		Status: c.Query("status"),
	}
	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "page must be a positive number", "INVALID_PAGE", nil)
		}
		req.Page = page
	}
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, e := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(e))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	res, err := h.approvalFlow.ListApprovals(h.createRequestContext(c, "/api/v1/matching/approvals"), tenantID, &req)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "MATCH_LIST_FAILED" && be.Err == nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown status filter", be.Code, be.Error())
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list approvals", "MATCH_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Approvals retrieved", res)
}

// Approve approves a pending match.
// @Summary Approve match
// @Description Transition a pending match record to approved
// @Tags Approvals
// @Produce json
// @Param id path int true "Match record ID"
// @Success 200 {object} dto.APIResponse{data=dto.ApprovalDecisionResponse} "Approved"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Match not found"
// @Failure 409 {object} dto.APIResponse "Already reviewed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/approvals/{id}/approve [post]
func (h *ApprovalHandler) Approve(c fiber.Ctx) error {
	tenantID, reviewerID, matchID, errResp := h.decisionParams(c)
	if errResp != nil {
		return errResp
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	res, err := h.approvalFlow.Approve(h.createRequestContext(c, "/api/v1/matching/approvals/:id/approve"), tenantID, matchID, reviewerID, metadata)
	if err != nil {
		return h.decisionError(c, err, "Failed to approve match")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Match approved successfully", res)
}

// Reject rejects a pending match with a mandatory reason.
// @Summary Reject match
// @Description Transition a pending match record to rejected; the pair is excluded from future matching
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path int true "Match record ID"
// @Param request body dto.RejectMatchRequest true "Rejection reason"
// @Success 200 {object} dto.APIResponse{data=dto.ApprovalDecisionResponse} "Rejected"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Match not found"
// @Failure 409 {object} dto.APIResponse "Already reviewed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/approvals/{id}/reject [post]
func (h *ApprovalHandler) Reject(c fiber.Ctx) error {
	tenantID, reviewerID, matchID, errResp := h.decisionParams(c)
	if errResp != nil {
		return errResp
	}

	var req dto.RejectMatchRequest
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
	res, err := h.approvalFlow.Reject(h.createRequestContext(c, "/api/v1/matching/approvals/:id/reject"), tenantID, matchID, reviewerID, req.Reason, metadata)
	if err != nil {
		if businessflow.IsRejectionReasonRequired(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Rejection reason is required", "MATCH_REJECT_FAILED", nil)
		}
		return h.decisionError(c, err, "Failed to reject match")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Match rejected successfully", res)
}

// Export streams the approval queue as an XLSX spreadsheet.
// @Summary Export approvals
// @Description Download the tenant's match records as a spreadsheet
// @Tags Approvals
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param status query string false "Filter by status (pending, approved, rejected)"
// @Success 200 {file} binary "Spreadsheet"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/matching/approvals/export [get]
func (h *ApprovalHandler) Export(c fiber.Ctx) error {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	content, filename, err := h.reportFlow.ExportApprovals(h.createRequestContextWithTimeout(c, "/api/v1/matching/approvals/export", 60*time.Second), tenantID, c.Query("status"))
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok && be.Err == nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown status filter", be.Code, be.Error())
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to export approvals", "MATCH_EXPORT_FAILED", nil)
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(content)
}

// decisionParams extracts the shared tenant, reviewer, and match ID inputs of
// a decision endpoint.
func (h *ApprovalHandler) decisionParams(c fiber.Ctx) (tenantID string, reviewerID uint, matchID uint, errResp error) {
	tenantID, ok := c.Locals("tenant_id").(string)
	if !ok {
		return "", 0, 0, h.ErrorResponse(c, fiber.StatusUnauthorized, "Tenant ID not found in context", "MISSING_TENANT_ID", nil)
	}

	reviewerID, ok = c.Locals("reviewer_id").(uint)
	if !ok || reviewerID == 0 {
		return "", 0, 0, h.ErrorResponse(c, fiber.StatusUnauthorized, "Reviewer ID not found in context", "MISSING_REVIEWER_ID", nil)
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return "", 0, 0, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid match ID", "INVALID_MATCH_ID", nil)
	}

	return tenantID, reviewerID, uint(id), nil
}

func (h *ApprovalHandler) decisionError(c fiber.Ctx, err error, fallback string) error {
	if businessflow.IsMatchNotFound(err) {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Match record not found", "MATCH_NOT_FOUND", nil)
	}

	var reviewed *businessflow.AlreadyReviewedError
	if errors.As(err, &reviewed) {
		return h.ErrorResponse(c, fiber.StatusConflict, reviewed.Error(), "MATCH_ALREADY_REVIEWED", fiber.Map{
			"status":      reviewed.Status.String(),
			"reviewer_id": reviewed.ReviewerID,
			"reviewed_at": reviewed.ReviewedAt,
		})
	}

	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallback, "MATCH_REVIEW_FAILED", nil)
}

func (h *ApprovalHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *ApprovalHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
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
