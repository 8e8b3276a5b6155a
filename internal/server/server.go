// Package server exposes the triage dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/comigor/triage-go/internal/agent"
	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/events"
	"github.com/comigor/triage-go/internal/history"
	"github.com/comigor/triage-go/internal/logger"
	"github.com/comigor/triage-go/internal/specialist"
)

// ServiceName is reported by the health and info endpoints.
const ServiceName = "triage-agent"

const version = "1.0.0"

// Dispatcher is the part of *agent.Dispatcher the HTTP layer uses.
type Dispatcher interface {
	Handle(ctx context.Context, userID int64, text string) agent.Reply
	RunCode(ctx context.Context, userID int64, code string) (specialist.ExecuteResponse, error)
	OnRouted(ctx context.Context, ev events.Routed) error
	OnLearningResponse(ctx context.Context, ev events.Response) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Dispatcher Dispatcher
	Store      history.Store
	// Registry receives the HTTP metrics when cfg.Server.Metrics is set.
	// Defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Server wraps the fiber app.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	d      Dispatcher
	store  history.Store
	pubsub string
}

// New builds the app and registers every route.
func New(deps Deps, cfg config.Config) *Server {
	s := &Server{
		cfg:    cfg,
		d:      deps.Dispatcher,
		store:  deps.Store,
		pubsub: cfg.Events.PubSub,
	}
	if s.store == nil {
		s.store = history.Unavailable{}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "Triage Agent",
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s.app.Use(recover.New())
	s.app.Use(requestLogger())

	if cfg.Server.Metrics {
		reg := deps.Registry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		prom := fiberprometheus.NewWithRegistry(reg, ServiceName, "", "", nil)
		prom.RegisterAt(s.app, "/metrics")
		s.app.Use(prom.Middleware)
	}

	origins := strings.TrimSpace(cfg.Server.AllowedOrigins)
	if origins == "" {
		origins = "*"
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/", s.info)
	s.app.Get("/health", s.health)
	s.app.Get("/ready", s.ready)

	s.app.Post("/chat", s.chat)
	s.app.Post("/run-code", s.runCode)
	s.app.Get("/progress/:user_id", s.progress)
	s.app.Get("/conversations/:user_id", s.conversations)

	s.app.Get("/dapr/subscribe", s.subscriptions)
	s.app.Post(events.CallbackRoute(events.TopicRouted), s.onRouted)
	s.app.Post(events.CallbackRoute(events.TopicResponse), s.onLearningResponse)
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on the configured address.
func (s *Server) Listen() error {
	addr := s.cfg.Server.Address()
	logger.L.Info("HTTP server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestLogger logs one line per request through the service logger.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		logger.L.Info("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", time.Since(start).String(),
		)
		return err
	}
}

// errorHandler renders errors as {"detail": ...}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
}
