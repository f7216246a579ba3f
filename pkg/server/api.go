package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/config"
	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/middleware"
)

type (
	APIServerDI struct {
		MiddlewareTransport middleware.Transport
		Config              *config.Config
		Logger              *logrus.Logger
		Metrics             *prometheus.Metrics
	}

	// APIServer hosts the protected API surface. Every route mounted on it
	// runs behind the full chain: recover, API key auth, rate limit, threat
	// detection.
	APIServer struct {
		*BaseServer
		middlewareTransport middleware.Transport
	}
)

func NewAPIServer(di APIServerDI) *APIServer {
	s := &APIServer{
		BaseServer:          NewBaseServer(di.Config, di.Logger, di.Metrics),
		middlewareTransport: di.MiddlewareTransport,
	}
	// Health endpoints register first so they stay reachable without an API
	// key.
	s.setupHealthCheck()
	s.setupMiddlewares()
	return s
}

func (s *APIServer) setupMiddlewares() {
	for _, mw := range []middleware.Middleware{
		s.middlewareTransport.PanicRecoverMiddleware,
		s.middlewareTransport.APIKeyAuthMiddleware,
		s.middlewareTransport.RateLimitMiddleware,
		s.middlewareTransport.ThreatMiddleware,
	} {
		if mw != nil {
			s.router.Use(mw.Middleware())
		}
	}
}

func (s *APIServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.WithField("addr", addr).Info("starting api server")
	return s.router.Listen(addr)
}

func (s *APIServer) Shutdown() error {
	return s.router.Shutdown()
}
