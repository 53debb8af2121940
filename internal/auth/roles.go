package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/domain"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

// RequireAnyRole ensures caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// RequireRole ensures the principal holds one of the allowed system roles.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if _, exists := allowedSet[principal.Role()]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// CanAssign reports whether principal may assign defects of the project.
func CanAssign(principal domain.Principal, projectID string) bool {
	return principal != nil && domain.CanAssign(principal, projectID)
}
