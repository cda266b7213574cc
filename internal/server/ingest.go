package server

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/primoia/log-watcher/internal/auth"
	"github.com/primoia/log-watcher/internal/contract"
	"github.com/primoia/log-watcher/internal/queue"
	"github.com/primoia/log-watcher/internal/response"
)

// bearerKey extracts the API key from the Authorization header.
func bearerKey(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") || strings.HasPrefix(header, "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// ingestError maps pipeline error classes to the HTTP taxonomy:
// 400 validation, 401 unauthorized, 429 rate limited, 503 queue full.
func ingestError(c echo.Context, err error) error {
	var verr *contract.ValidationError
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrNotFound):
		return response.Unauthorized(c, "invalid API key", err.Error())
	case errors.Is(err, auth.ErrRateLimited):
		return response.TooManyRequests(c, "rate limit exceeded, back off and retry", err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		return response.ServiceUnavailable(c, "ingestion queue is saturated, retry later", err.Error())
	case errors.As(err, &verr):
		return response.BadRequest(c, "payload violates the log contract", verr.Error())
	default:
		return response.InternalError(c, "ingestion failed", err.Error())
	}
}

// handleIngestSingle accepts one log event (POST /ingestion/logs/single).
func (s *Server) handleIngestSingle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return response.BadRequest(c, "unreadable request body", err.Error())
	}
	ack, err := s.Gateway.IngestSingle(c.Request().Context(), bearerKey(c), body)
	if err != nil {
		return ingestError(c, err)
	}
	return response.Created(c, ack, "log accepted for processing")
}

// handleIngestBatch accepts a batch atomically (POST /ingestion/logs/batch).
func (s *Server) handleIngestBatch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return response.BadRequest(c, "unreadable request body", err.Error())
	}
	ack, err := s.Gateway.IngestBatch(c.Request().Context(), bearerKey(c), body)
	if err != nil {
		return ingestError(c, err)
	}
	return response.Created(c, ack, "batch accepted for processing")
}

// handleOwnStats returns the calling service's aggregate
// (GET /ingestion/stats). Reading stats does not charge the rate window.
func (s *Server) handleOwnStats(c echo.Context) error {
	identity, err := s.Auth.Authenticate(bearerKey(c))
	if err != nil {
		return response.Unauthorized(c, "invalid API key", err.Error())
	}
	stats, _ := s.Engine.ServiceStats(identity.ServiceName)
	return response.OK(c, stats, "")
}

// handleGlobalStats returns the cross-service fold (GET /stats/global).
func (s *Server) handleGlobalStats(c echo.Context) error {
	return response.OK(c, s.Engine.GlobalStats(), "")
}

// handleTopServices returns the volume ranking
// (GET /stats/top-services?limit=N).
func (s *Server) handleTopServices(c echo.Context) error {
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			return response.BadRequest(c, "invalid limit", "limit must be an integer between 1 and 100")
		}
		limit = parsed
	}
	ranking := s.Engine.TopServices(limit)
	return response.OK(c, map[string]any{
		"top_services": ranking,
		"limit":        limit,
		"returned":     len(ranking),
	}, "")
}

// handleHealth is liveness only (GET /health).
func (s *Server) handleHealth(c echo.Context) error {
	return response.OK(c, map[string]string{"status": "healthy"}, "")
}
