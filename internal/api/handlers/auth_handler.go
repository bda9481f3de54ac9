package handlers

import (
	"context"
	"errors"

	"finrecon/internal/dto"
	"finrecon/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type TokenIssuer interface {
	IssueToken(ctx context.Context, req *dto.TokenRequest) (*dto.TokenResponse, error)
}

type AuthHandler struct {
	authService TokenIssuer
	logger      *zap.Logger
}

func NewAuthHandler(authService TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Token godoc
// @Summary Issue a service token
// @Description Exchange service client credentials for a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.TokenRequest true "Client credentials"
// @Success 200 {object} dto.TokenResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/token [post]
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.authService.IssueToken(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid credentials",
			})
		}
		h.logger.Error("Token issuance failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Token issuance failed",
		})
	}

	return c.JSON(resp)
}
