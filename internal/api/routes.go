package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/adapters/tts"
	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"github.com/satriahrh/liveview/internal/auth"
	"github.com/satriahrh/liveview/internal/websocket"
)

const (
	clientIDKey       = "clientID"
	defaultArchiveMax = 20
	maxArchiveLimit   = 100
)

// Dependencies are the services the routes are served from
type Dependencies struct {
	Hub      *websocket.Hub
	Tokens   *auth.TokenManager
	Clients  repositories.ClientRepository
	Archives repositories.ArchiveRepository
	// Presence is optional; it adds sessions hosted by other nodes
	Presence repositories.PresenceRepository
	// Voices is optional; the built-in voices are listed without it
	Voices repositories.VoiceLister
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handler{deps: deps, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"service":  "liveview-server",
			"sessions": len(deps.Hub.Sessions()),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)

	authed := v1.Group("", h.requireClient)
	authed.GET("/sessions", h.listSessions)
	authed.GET("/sessions/:id/export", h.exportSession)
	authed.POST("/sessions/:id/archive", h.archiveSession)
	authed.GET("/archives", h.listArchives)
	authed.GET("/archives/:id", h.getArchive)
	authed.DELETE("/archives/:id", h.deleteArchive)
	authed.GET("/voices", h.listVoices)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(deps.Hub, c, c.Get(clientIDKey).(string))
	}, h.requireClient)
}

func (h *handler) issueToken(c echo.Context) error {
	var req TokenRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ClientID == "" || req.AccessKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Client ID and access key are required",
		})
	}

	if err := h.deps.Clients.ValidateClient(c.Request().Context(), req.ClientID, req.AccessKey); err != nil {
		h.logger.Warn("Client authentication failed",
			zap.String("client_id", req.ClientID),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid client credentials",
		})
	}

	token, expiresAt, err := h.deps.Tokens.GenerateClientToken(req.ClientID)
	if err != nil {
		h.logger.Error("Failed to generate client token",
			zap.String("client_id", req.ClientID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Client authenticated successfully", zap.String("client_id", req.ClientID))

	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
	})
}

// requireClient accepts a token from the Authorization header or, for
// browsers opening a WebSocket, from the token query parameter
func (h *handler) requireClient(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var token string
		authHeader := c.Request().Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = c.QueryParam("token")
		}

		if token == "" {
			h.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required",
			})
		}

		claims, err := h.deps.Tokens.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set(clientIDKey, claims.ClientID)
		return next(c)
	}
}

func (h *handler) listSessions(c echo.Context) error {
	clientID := c.Get(clientIDKey).(string)

	resp := SessionsResponse{Sessions: []websocket.SessionInfo{}}
	for _, info := range h.deps.Hub.Sessions() {
		if info.ClientID == clientID {
			resp.Sessions = append(resp.Sessions, info)
		}
	}

	if h.deps.Presence != nil {
		presence, err := h.deps.Presence.List(c.Request().Context())
		if err != nil {
			h.logger.Warn("Failed to list presence", zap.Error(err))
		}
		for _, p := range presence {
			if p.ClientID == clientID {
				resp.Presence = append(resp.Presence, p)
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// ownedSession finds a live session of the caller
func (h *handler) ownedSession(c echo.Context) (entities.SessionExport, bool) {
	sessionID := c.Param("id")
	owner, ok := h.deps.Hub.ClientID(sessionID)
	if !ok || owner != c.Get(clientIDKey).(string) {
		return entities.SessionExport{}, false
	}
	session, ok := h.deps.Hub.Session(sessionID)
	if !ok {
		return entities.SessionExport{}, false
	}
	return session.Export(), true
}

func (h *handler) exportSession(c echo.Context) error {
	export, ok := h.ownedSession(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No live session with this ID",
		})
	}

	filename := fmt.Sprintf("liveview-%s-%s.json", export.SessionID, export.ExportedAt.Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.JSON(http.StatusOK, export)
}

func (h *handler) archiveSession(c echo.Context) error {
	export, ok := h.ownedSession(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No live session with this ID",
		})
	}

	archive := entities.NewArchive(c.Get(clientIDKey).(string), export)
	if err := h.deps.Archives.Create(c.Request().Context(), archive); err != nil {
		h.logger.Error("Failed to archive session",
			zap.String("sessionID", export.SessionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_failed",
			Message: "Failed to archive session",
		})
	}

	h.logger.Info("Session archived",
		zap.String("sessionID", export.SessionID),
		zap.String("archiveID", archive.ID),
		zap.Int("messages", len(export.Messages)))
	return c.JSON(http.StatusCreated, archive)
}

func (h *handler) listArchives(c echo.Context) error {
	limit := defaultArchiveMax
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxArchiveLimit)
	}

	archives, err := h.deps.Archives.ListByClientID(c.Request().Context(), c.Get(clientIDKey).(string), limit)
	if err != nil {
		h.logger.Error("Failed to list archives", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_failed",
			Message: "Failed to list archives",
		})
	}
	if archives == nil {
		archives = []*entities.Archive{}
	}
	return c.JSON(http.StatusOK, ArchivesResponse{Archives: archives})
}

// ownedArchive loads an archive of the caller; archives of other clients
// are reported as missing
func (h *handler) ownedArchive(c echo.Context) (*entities.Archive, error) {
	archive, err := h.deps.Archives.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if archive.ClientID != c.Get(clientIDKey).(string) {
		return nil, entities.ErrArchiveNotFound
	}
	return archive, nil
}

func (h *handler) getArchive(c echo.Context) error {
	archive, err := h.ownedArchive(c)
	if err != nil {
		return h.archiveError(c, err)
	}
	return c.JSON(http.StatusOK, archive)
}

func (h *handler) deleteArchive(c echo.Context) error {
	archive, err := h.ownedArchive(c)
	if err != nil {
		return h.archiveError(c, err)
	}
	if err := h.deps.Archives.Delete(c.Request().Context(), archive.ID); err != nil {
		return h.archiveError(c, err)
	}

	h.logger.Info("Archive deleted", zap.String("archiveID", archive.ID))
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) archiveError(c echo.Context, err error) error {
	if errors.Is(err, entities.ErrArchiveNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "archive_not_found",
			Message: "Archive not found",
		})
	}
	h.logger.Error("Archive request failed", zap.String("archiveID", c.Param("id")), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "archive_failed",
		Message: "Archive storage failed",
	})
}

func (h *handler) listVoices(c echo.Context) error {
	if h.deps.Voices == nil {
		return c.JSON(http.StatusOK, VoicesResponse{Voices: tts.BuiltinVoices()})
	}

	voices, err := h.deps.Voices.ListVoices(c.Request().Context())
	if err != nil {
		h.logger.Warn("Failed to list provider voices, using built-in set", zap.Error(err))
		voices = tts.BuiltinVoices()
	}
	return c.JSON(http.StatusOK, VoicesResponse{Voices: voices})
}
