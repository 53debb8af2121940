package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/api/http/handlers"
	"github.com/stroycontrol/defect-service/internal/auth"
	"github.com/stroycontrol/defect-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Defects        *handlers.DefectsHandler
	Comments       *handlers.CommentsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	writers := auth.RequireRole(domain.UserRoleAdmin, domain.UserRoleManager, domain.UserRoleEngineer)

	defects := app.Group("/defects", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	defects.Get("/", cfg.Defects.ListDefects)
	defects.Post("/", writers, cfg.Defects.CreateDefect)
	defects.Get("/stats", cfg.Defects.Stats)
	defects.Post("/bulk", writers, cfg.Defects.BulkUpdate)
	defects.Get("/:id", cfg.Defects.GetDefect)
	defects.Patch("/:id", writers, cfg.Defects.UpdateDefect)
	defects.Delete("/:id", writers, cfg.Defects.DeleteDefect)
	defects.Post("/:id/status", cfg.Defects.ChangeStatus)
	defects.Post("/:id/assign", cfg.Defects.Assign)
	defects.Get("/:id/transitions", cfg.Defects.Transitions)
	defects.Get("/:id/history", cfg.Defects.History)
	defects.Get("/:id/comments", cfg.Comments.List)
	defects.Post("/:id/comments", cfg.Comments.Create)
	defects.Patch("/:id/comments/:commentId", cfg.Comments.Update)
	defects.Delete("/:id/comments/:commentId", cfg.Comments.Delete)
}
