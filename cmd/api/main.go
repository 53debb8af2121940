package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	httptransport "github.com/stroycontrol/defect-service/internal/api/http"
	"github.com/stroycontrol/defect-service/internal/api/http/handlers"
	"github.com/stroycontrol/defect-service/internal/auth"
	"github.com/stroycontrol/defect-service/internal/config"
	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/observability"
	"github.com/stroycontrol/defect-service/internal/persistence"
	"github.com/stroycontrol/defect-service/internal/repository"
	"github.com/stroycontrol/defect-service/internal/repository/memory"
	"github.com/stroycontrol/defect-service/internal/service"
	"github.com/stroycontrol/defect-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var store repository.Store
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(pg.Pool, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewPostgresStore(pg.Pool)
	} else {
		mem := memory.NewStore()
		if err := bootstrapAdmin(mem, cfg.Bootstrap, cfg.Auth.BcryptCost, logger); err != nil {
			logger.Fatal("failed to seed administrator", zap.Error(err))
		}
		store = mem
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher(logger)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	var redisPublisher *events.RedisPublisher
	if redis.Client != nil {
		redisPublisher = events.NewRedisPublisher(redis, cfg.Redis.EventsChannel, logger)
	}
	worker.StartNotificationWorker(dispatcher, notificationService, redisPublisher)

	loc := cfg.App.Location()
	audit := service.NewAuditTrail(store, logger, time.Now)
	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		Store:      store,
		Audit:      audit,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	assignments := service.NewAssignmentService(service.AssignmentDependencies{
		Store:      store,
		Audit:      audit,
		Dispatcher: dispatcher,
		Logger:     logger,
		Location:   loc,
	})
	defectService := service.NewDefectService(service.DefectDependencies{
		Store:            store,
		Allocator:        service.NewIdentifierAllocator(time.Now, loc),
		Lifecycle:        lifecycle,
		Assignments:      assignments,
		Dispatcher:       dispatcher,
		Logger:           logger,
		Location:         loc,
		MaxNumberRetries: cfg.Numbering.MaxRetries,
	})
	commentService := service.NewCommentService(service.CommentDependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	repos := store.Repositories()
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:     repos.Users,
		TokenManager: tokenManager,
		Logger:       logger,
	})
	authMiddleware := auth.NewAuthMiddleware(tokenManager, auth.NewPrincipalResolver(repos.Users, repos.Projects))

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:   handlers.NewAuthHandler(authService),
		Defects: handlers.NewDefectsHandler(handlers.DefectsDependencies{
			Defects:     defectService,
			Lifecycle:   lifecycle,
			Assignments: assignments,
			Audit:       audit,
		}),
		Comments:       handlers.NewCommentsHandler(commentService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.App.Addr()), zap.String("time_zone", loc.String()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}

// bootstrapAdmin seeds an administrator into an empty in-memory store.
func bootstrapAdmin(store *memory.Store, cfg config.BootstrapConfig, cost int, logger *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Warn("BOOTSTRAP_ADMIN_EMAIL not set; in-memory store has no users")
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword, cost)
	if err != nil {
		return err
	}
	admin := store.AddUser(domain.User{
		Email:        cfg.AdminEmail,
		FirstName:    "Administrator",
		PasswordHash: hash,
		Role:         domain.UserRoleAdmin,
		IsActive:     true,
	})
	logger.Info("seeded administrator", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
