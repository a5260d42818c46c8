package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/credential"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/providers"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/rooms"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/sync"
)

// Server carries the HTTP surface's dependencies. Construct it with a
// literal and mount Router on an http server.
type Server struct {
	APIKey    string
	Managers  map[mail.Kind]*credential.Manager
	Verifier  *credential.Verifier
	Directory *providers.Directory
	Rooms     *rooms.Registry
	Engine    *sync.Engine
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The provider redirects here with a state token; it cannot send the
	// API key, so the route sits outside the keyed group.
	r.GET("/api/v1/providers/:provider/callback", s.handleOAuthCallback)

	api := r.Group("/api/v1")
	if s.APIKey != "" {
		api.Use(apiKeyMiddleware(s.APIKey))
	}

	api.GET("/providers", s.handleListProviders)
	api.POST("/providers/:provider/connect", s.handleConnect)
	api.DELETE("/providers/:provider", s.handleDisconnect)

	api.GET("/rooms", s.handleListRooms)
	api.PATCH("/rooms/:id/settings", s.handleUpdateSettings)
	api.POST("/rooms/:id/sync", s.handleTriggerSync)
	api.GET("/rooms/:id/status", s.handleSyncStatus)
	api.GET("/rooms/:id/messages", s.handleListMessages)
	api.POST("/rooms/:id/messages/:messageId/read", s.handleMarkRead)
	api.POST("/rooms/:id/messages/:messageId/star", s.handleSetStarred)

	return r
}

func apiKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// manager resolves the :provider path param to its credential manager,
// writing the error response itself when the kind is unknown.
func (s *Server) manager(c *gin.Context) (*credential.Manager, bool) {
	kind := mail.Kind(c.Param("provider"))
	mgr, ok := s.Managers[kind]
	if !kind.Valid() || !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown provider %q", c.Param("provider"))})
		return nil, false
	}
	return mgr, true
}

// authError maps classified credential failures onto HTTP statuses
func (s *Server) authError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	body := gin.H{"error": err.Error()}

	if ae, ok := credential.IsAuthError(err); ok {
		if ae.Hint != "" {
			body["hint"] = ae.Hint
		}
		switch ae.Kind {
		case credential.KindNotConfigured:
			status = http.StatusServiceUnavailable
		case credential.KindUnauthorized:
			status = http.StatusUnauthorized
		case credential.KindForbidden:
			status = http.StatusForbidden
		case credential.KindUserCancelled:
			status = http.StatusBadRequest
		case credential.KindConfigMismatch:
			status = http.StatusInternalServerError
		case credential.KindTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	c.JSON(status, body)
}
