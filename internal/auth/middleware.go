package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// PrincipalResolver turns a user id into a domain.Principal with its project roles.
type PrincipalResolver struct {
	users    repository.UserRepository
	projects repository.ProjectRepository
}

// NewPrincipalResolver builds a resolver on the given repositories.
func NewPrincipalResolver(users repository.UserRepository, projects repository.ProjectRepository) *PrincipalResolver {
	return &PrincipalResolver{users: users, projects: projects}
}

// Resolve loads the user and the projects it manages or belongs to.
func (r *PrincipalResolver) Resolve(ctx context.Context, userID string) (*domain.Actor, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user %s is inactive", domain.ErrForbidden, userID)
	}
	managed, err := r.projects.ListManagedProjectIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	member, err := r.projects.ListMemberProjectIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return domain.NewActor(*user, managed, member), nil
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens   *TokenManager
	resolver *PrincipalResolver
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, resolver *PrincipalResolver) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, resolver: resolver}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal, err := m.resolver.Resolve(c.UserContext(), claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
			return apperrors.NewUnauthorized("user not found or inactive")
		}
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(c *fiber.Ctx) (domain.Principal, bool) {
	principal, ok := c.Locals(principalKey).(domain.Principal)
	return principal, ok && principal != nil
}

// WithPrincipal stores principal on the request. Used by tests and internal tooling.
func WithPrincipal(c *fiber.Ctx, principal domain.Principal) {
	c.Locals(principalKey, principal)
}
