package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/config"
	handlers "github.com/apiwarden/apiwarden/pkg/handlers/http"
	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/middleware"
)

type (
	AdminServerDI struct {
		MiddlewareTransport middleware.Transport
		HandlerTransport    handlers.HandlerTransport
		Config              *config.Config
		Logger              *logrus.Logger
		Metrics             *prometheus.Metrics
	}
	AdminServer struct {
		*BaseServer
		middlewareTransport middleware.Transport
		handlerTransport    handlers.HandlerTransport
	}
)

func NewAdminServer(di AdminServerDI) *AdminServer {
	return &AdminServer{
		BaseServer:          NewBaseServer(di.Config, di.Logger, di.Metrics),
		middlewareTransport: di.MiddlewareTransport,
		handlerTransport:    di.HandlerTransport,
	}
}

func (s *AdminServer) Run() error {
	s.setupRoutes()
	s.setupHealthCheck()
	s.setupMetricsEndpoint()

	addr := fmt.Sprintf(":%d", s.config.Server.AdminPort)
	s.logger.WithField("addr", addr).Info("starting admin server")
	return s.router.Listen(addr)
}

func (s *AdminServer) setupRoutes() {
	if s.middlewareTransport.PanicRecoverMiddleware != nil {
		s.router.Use(s.middlewareTransport.PanicRecoverMiddleware.Middleware())
	}

	v1 := s.router.Group("/api/v1")
	if s.middlewareTransport.AdminAuthMiddleware != nil {
		v1.Use(s.middlewareTransport.AdminAuthMiddleware.Middleware())
	}

	s.addRoutes(v1)
}

func (s *AdminServer) addRoutes(v1 fiber.Router) {
	detection := v1.Group("/threat-detection")
	{
		detection.Get("/status", s.handlerTransport.GetStatusHandler.Handle)
		detection.Get("/config", s.handlerTransport.GetConfigHandler.Handle)
		detection.Put("/config", s.handlerTransport.UpdateConfigHandler.Handle)
		detection.Get("/statistics", s.handlerTransport.GetStatisticsHandler.Handle)
		detection.Get("/health", s.handlerTransport.HealthHandler.Handle)
		detection.Post("/enable", s.handlerTransport.EnableHandler.Handle)
		detection.Post("/disable", s.handlerTransport.DisableHandler.Handle)
	}

	reputation := v1.Group("/reputation")
	{
		reputation.Post("/denylist", s.handlerTransport.AddDenylistHandler.Handle)
		reputation.Delete("/denylist/:ip", s.handlerTransport.RemoveDenylistHandler.Handle)
		reputation.Get("/events/:ip", s.handlerTransport.ListThreatEventsHandler.Handle)
	}

	keys := v1.Group("/api-keys")
	{
		keys.Post("", s.handlerTransport.CreateAPIKeyHandler.Handle)
		keys.Delete("/:key", s.handlerTransport.RevokeAPIKeyHandler.Handle)
	}
}

func (s *AdminServer) Shutdown() error {
	return s.router.Shutdown()
}
