// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/gofiber/fiber/v3"
)

// AuthMiddleware handles reviewer JWT validation for protected endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate validates the reviewer JWT and the X-Tenant-ID header. The
// tenant in the header must match the tenant baked into the token; requests
// never pick their tenant freely.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Authorization header is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_AUTHORIZATION_HEADER",
				},
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid authorization header format. Expected 'Bearer <token>'",
				Error: dto.ErrorDetail{
					Code: "INVALID_AUTHORIZATION_FORMAT",
				},
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Access token is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_ACCESS_TOKEN",
				},
			})
		}

		claims, err := m.tokenService.ValidateReviewerToken(token)
		if err != nil {
			var errorCode string
			var message string

			if errors.Is(err, services.ErrTokenExpired) {
				errorCode = "TOKEN_EXPIRED"
				message = "Access token has expired"
			} else if errors.Is(err, services.ErrTokenInvalid) {
				errorCode = "TOKEN_INVALID"
				message = "Invalid access token"
			} else {
				errorCode = "TOKEN_VALIDATION_FAILED"
				message = "Token validation failed"
			}

			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: message,
				Error: dto.ErrorDetail{
					Code: errorCode,
				},
			})
		}

		if claims.TokenType != "access" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Refresh tokens cannot be used for API access",
				Error: dto.ErrorDetail{
					Code: "TOKEN_TYPE_INVALID",
				},
			})
		}

		tenantID := c.Get("X-Tenant-ID")
		if tenantID == "" {
			tenantID = claims.TenantID
		}
		if tenantID != claims.TenantID {
			return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{
				Success: false,
				Message: "Tenant header does not match token",
				Error: dto.ErrorDetail{
					Code: "TENANT_MISMATCH",
				},
			})
		}

		// Store reviewer information in context for downstream handlers
		c.Locals("reviewer_id", claims.ReviewerID)
		c.Locals("tenant_id", tenantID)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		// Store RequestID for audit logging
		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals("request_id", requestID)
		}

		return c.Next()
	}
}

// GetReviewerIDFromContext extracts the reviewer ID from the request context
func GetReviewerIDFromContext(c fiber.Ctx) (uint, bool) {
	reviewerID, ok := c.Locals("reviewer_id").(uint)
	return reviewerID, ok
}

// GetTenantIDFromContext extracts the tenant ID from the request context
func GetTenantIDFromContext(c fiber.Ctx) (string, bool) {
	tenantID, ok := c.Locals("tenant_id").(string)
	return tenantID, ok
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.ReviewerTokenClaims, bool) {
	claims, ok := c.Locals("token_claims").(*services.ReviewerTokenClaims)
	return claims, ok
}
