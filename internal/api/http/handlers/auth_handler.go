package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/api/dto"
	"github.com/stroycontrol/defect-service/internal/service"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

// AuthHandler exposes the login endpoint.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	user, token, exp, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": dto.AuthResponse{
			Token:     token,
			ExpiresAt: exp,
			User: dto.UserResponse{
				ID:       user.ID,
				Email:    user.Email,
				FullName: user.FullName(),
				Role:     user.Role,
			},
		},
	})
}
