package server

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/primoia/log-watcher/internal/auth"
	"github.com/primoia/log-watcher/internal/response"
)

// handleRegisterService adds a service identity (POST /admin/services).
// Registration is add-only; reusing a name is a conflict.
func (s *Server) handleRegisterService(c echo.Context) error {
	var spec auth.RegistrationSpec
	if err := c.Bind(&spec); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	if spec.ServiceName == "" || spec.APIKey == "" {
		return response.BadRequest(c, "missing fields", "service_name and api_key are required")
	}
	identity, err := s.Auth.Register(spec)
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return response.Conflict(c, "service already registered", err.Error())
		}
		return response.InternalError(c, "registration failed", err.Error())
	}
	return response.Created(c, identity, "service registered")
}

// handleListServices lists registered identities without their secrets
// (GET /admin/services).
func (s *Server) handleListServices(c echo.Context) error {
	services := s.Auth.List()
	return response.OK(c, map[string]any{
		"services": services,
		"total":    len(services),
	}, "")
}

// handleRemoveService deletes a service (DELETE /admin/services/:name).
func (s *Server) handleRemoveService(c echo.Context) error {
	name := c.Param("name")
	if err := s.Auth.Remove(name); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return response.NotFound(c, "service not found", err.Error())
		}
		return response.InternalError(c, "removal failed", err.Error())
	}
	return response.OK(c, map[string]string{"service_name": name}, "service removed")
}

// handleRotateKey replaces a service's credential
// (POST /admin/services/:name/rotate-key). The old key stops validating
// immediately; the new key is returned exactly once.
func (s *Server) handleRotateKey(c echo.Context) error {
	name := c.Param("name")
	newKey, err := s.Auth.RotateKey(name)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return response.NotFound(c, "service not found", err.Error())
		}
		return response.InternalError(c, "rotation failed", err.Error())
	}
	return response.OK(c, map[string]string{
		"service_name": name,
		"api_key":      newKey,
	}, "api key rotated")
}

// handleQueueStatus reports buffer occupancy for operators
// (GET /admin/queue). This is the deeper probe the plain /health
// endpoint deliberately avoids.
func (s *Server) handleQueueStatus(c echo.Context) error {
	return response.OK(c, map[string]any{
		"depths":  s.Queue.Depths(),
		"backend": s.Config.Queue.Backend,
	}, "")
}
