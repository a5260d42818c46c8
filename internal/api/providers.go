package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/credential"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/rooms"
)

func (s *Server) handleListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.Directory.List()})
}

// handleConnect signs the provider in with the fewest prompts: a stored or
// silently renewed session connects immediately; otherwise the client gets
// the consent URL and the connection completes through the callback.
func (s *Server) handleConnect(c *gin.Context) {
	mgr, ok := s.manager(c)
	if !ok {
		return
	}

	_, err := mgr.SignIn(c.Request.Context())
	if err != nil {
		var consent *credential.ConsentRequiredError
		if errors.As(err, &consent) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "consent_required",
				"authUrl": consent.AuthURL,
				"state":   consent.State,
			})
			return
		}
		s.authError(c, err)
		return
	}

	room, err := s.completeConnection(c.Request.Context(), mgr.Kind())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected", "room": room})
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	mgr, ok := s.manager(c)
	if !ok {
		return
	}

	state := c.Query("state")
	if denied := c.Query("error"); denied != "" {
		mgr.CancelInteractive(state)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("consent denied: %s", denied)})
		return
	}

	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
		return
	}

	sess, err := mgr.CompleteInteractive(c.Request.Context(), state, code)
	if err != nil {
		if errors.Is(err, credential.ErrNoAttempt) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.authError(c, err)
		return
	}

	if s.Verifier != nil && mgr.Kind() == mail.KindGmail && sess.IDToken != "" {
		if _, err := s.Verifier.VerifyIDToken(c.Request.Context(), sess.IDToken); err != nil {
			mgr.Revoke(c.Request.Context())
			c.JSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("identity verification failed: %v", err)})
			return
		}
	}

	room, err := s.completeConnection(c.Request.Context(), mgr.Kind())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected", "room": room})
}

// handleDisconnect revokes the session and deactivates the provider's
// rooms. Rooms are kept with their settings for reconnection.
func (s *Server) handleDisconnect(c *gin.Context) {
	mgr, ok := s.manager(c)
	if !ok {
		return
	}

	mgr.Revoke(c.Request.Context())

	n, err := s.Rooms.DeactivateRoomsForProvider(c.Request.Context(), mgr.Kind())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.Directory.ClearAccountInfo(mgr.Kind())

	log.Printf("api: disconnected %s, deactivated %d rooms", mgr.Kind(), n)
	c.JSON(http.StatusOK, gin.H{"status": "disconnected", "roomsDeactivated": n})
}

// completeConnection fetches the signed-in account's identity and makes
// sure its room exists
func (s *Server) completeConnection(ctx context.Context, kind mail.Kind) (*rooms.Room, error) {
	provider, err := s.Engine.Resolver(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client: %w", kind, err)
	}
	info, err := provider.GetUserInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s account info: %w", kind, err)
	}

	room, err := s.Rooms.UpsertRoom(ctx, kind, info)
	if err != nil {
		return nil, err
	}
	s.Directory.SetAccountInfo(kind, info)

	log.Printf("api: connected %s as %s (room %s)", kind, info.Email, room.ID)
	return room, nil
}
