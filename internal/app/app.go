package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/threadline/core/internal/config"
	"github.com/threadline/core/internal/contentref"
	"github.com/threadline/core/internal/database"
	"github.com/threadline/core/internal/middleware"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/modules/ban"
	"github.com/threadline/core/internal/modules/comment"
	"github.com/threadline/core/internal/modules/counts"
	"github.com/threadline/core/internal/modules/format"
	"github.com/threadline/core/internal/modules/moderation"
	"github.com/threadline/core/internal/modules/notify"
	"github.com/threadline/core/internal/modules/policy"
	"github.com/threadline/core/internal/modules/user"
	pkgcron "github.com/threadline/core/internal/pkg/cron"
	pkgjwt "github.com/threadline/core/internal/pkg/jwt"
	"github.com/threadline/core/internal/pkg/mail"
	pkgredis "github.com/threadline/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App wires the comments engine into a runnable HTTP service.
type App struct {
	cfg      *config.AppConfig
	router   *gin.Engine
	db       *gorm.DB
	registry *contentref.Registry
	logger   *zap.Logger
	sched    *pkgcron.Scheduler
	cancel   context.CancelFunc
}

// New initializes the application: config, database, redis, services, routes.
func New(logger *zap.Logger, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		pkgjwt.SetSecret(secret)
	} else {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.RateLimit(rc))
	router.Use(cors.New(corsConfig(cfg)))

	registry := contentref.NewRegistry()
	for _, tag := range cfg.ContentTypes {
		// Standalone mode trusts the host's ids; embedders replace these
		// with real model-backed resolvers via ContentTypes().
		registry.Register(tag, func(*gorm.DB, string) (bool, error) { return true, nil })
	}

	settings := cfg.Settings()
	sender := mail.New(mail.Config{
		Enable: cfg.Mail.Enable,
		Host:   cfg.Mail.Host,
		Port:   cfg.Mail.Port,
		User:   cfg.Mail.User,
		Pass:   cfg.Mail.Pass,
		From:   cfg.Mail.From,
	})

	auditSvc := audit.NewService(db, logger)
	notifier := notify.NewService(db, sender, logger)
	bans := ban.NewRegistry(db, auditSvc, notifier, logger)
	countsSvc := counts.NewService(db, rc, settings.CacheTimeout, logger)
	policyEngine := policy.New(settings, logger)
	modSvc := moderation.NewService(db, settings, bans, countsSvc, auditSvc, notifier, logger)
	commentSvc := comment.NewService(db, settings, registry, policyEngine, bans, modSvc, countsSvc, auditSvc, notifier, logger)
	userSvc := user.NewService(db)
	renderer := format.NewRenderer()

	ctx, cancel := context.WithCancel(context.Background())
	sched := pkgcron.New()
	registerCronJobs(sched, commentSvc, settings, logger)
	sched.Start(ctx)

	app := &App{
		cfg:      cfg,
		router:   router,
		db:       db,
		registry: registry,
		logger:   logger,
		sched:    sched,
		cancel:   cancel,
	}
	app.registerRoutes(commentSvc, modSvc, bans, userSvc, countsSvc, auditSvc, renderer)
	return app, nil
}

// ContentTypes exposes the target registry so embedders can bind real
// content models.
func (a *App) ContentTypes() *contentref.Registry { return a.registry }

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background jobs.
func (a *App) Shutdown() { a.cancel() }

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		c.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		c.AllowOriginFunc = func(string) bool { return true }
	}
	return c
}
