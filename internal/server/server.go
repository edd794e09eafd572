package server

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/storage"
)

// Server is a fully wired registry produced by Bootstrapper.Run.
type Server struct {
	app      *fiber.App
	pipeline *pipeline.Pipeline
	cfg      *config.Config
	store    storage.Storage
	auth     *auth.Auth
	logger   *logrus.Logger
}

// App returns the compiled Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Pipeline returns the stage list the application was built from.
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Config returns the resolved configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// Storage returns the initialized storage handle.
func (s *Server) Storage() storage.Storage {
	return s.store
}

// Listen blocks serving on the configured port.
func (s *Server) Listen() error {
	port := s.cfg.Global.ListenPort
	s.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("registry listening")
	return s.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
