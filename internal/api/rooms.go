package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/rooms"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/store"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/sync"
)

const defaultMessagePageSize = 50

func (s *Server) handleListRooms(c *gin.Context) {
	list, err := s.Rooms.ListActiveRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": list})
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var patch rooms.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := s.Rooms.UpdateSettings(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) handleTriggerSync(c *gin.Context) {
	roomID := c.Param("id")
	err := s.Engine.StartSync(c.Request.Context(), roomID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "roomId": roomID})
	case errors.Is(err, sync.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleSyncStatus(c *gin.Context) {
	room, err := s.Rooms.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if st, ok := s.Engine.Tracker.Get(room.ID); ok {
		c.JSON(http.StatusOK, st)
		return
	}
	// No pass ran in this process yet; answer from the room record.
	c.JSON(http.StatusOK, sync.Status{
		RoomID:       room.ID,
		LastSyncTime: room.LastSyncTime,
		Errors:       []string{},
	})
}

func (s *Server) handleListMessages(c *gin.Context) {
	room, provider, ok := s.roomProvider(c)
	if !ok {
		return
	}

	filter, maxResults, err := messageQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages, err := provider.ListMessages(c.Request.Context(), filter, maxResults)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	for i := range messages {
		messages[i].RoomID = room.ID
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	_, provider, ok := s.roomProvider(c)
	if !ok {
		return
	}

	if err := provider.MarkRead(c.Request.Context(), c.Param("messageId")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSetStarred(c *gin.Context) {
	_, provider, ok := s.roomProvider(c)
	if !ok {
		return
	}

	// An empty body means star; {"starred": false} unstars.
	req := struct {
		Starred *bool `json:"starred"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	starred := true
	if req.Starred != nil {
		starred = *req.Starred
	}

	if err := provider.SetStarred(c.Request.Context(), c.Param("messageId"), starred); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "starred": starred})
}

// roomProvider loads the room and its provider adapter, writing the error
// response itself on failure
func (s *Server) roomProvider(c *gin.Context) (*rooms.Room, sync.MailProvider, bool) {
	room, err := s.Rooms.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, nil, false
	}

	provider, err := s.Engine.Resolver(c.Request.Context(), room.ProviderKind)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("provider not available: %v", err)})
		return nil, nil, false
	}
	return room, provider, true
}

// messageQuery builds the adapter filter from query params
func messageQuery(c *gin.Context) (mail.Filter, int64, error) {
	var filter mail.Filter

	boolParam := func(name string, dst **bool) error {
		raw, ok := c.GetQuery(name)
		if !ok {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s=%q", name, raw)
		}
		*dst = &v
		return nil
	}

	if err := boolParam("read", &filter.IsRead); err != nil {
		return filter, 0, err
	}
	if err := boolParam("starred", &filter.IsStarred); err != nil {
		return filter, 0, err
	}
	if err := boolParam("important", &filter.IsImportant); err != nil {
		return filter, 0, err
	}
	if err := boolParam("hasAttachments", &filter.HasAttachments); err != nil {
		return filter, 0, err
	}

	filter.Sender = c.Query("sender")
	filter.Subject = c.Query("subject")
	filter.Query = c.Query("q")

	if raw, ok := c.GetQuery("after"); ok {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, 0, fmt.Errorf("invalid after=%q, want YYYY-MM-DD", raw)
		}
		filter.After = t
	}
	if raw, ok := c.GetQuery("before"); ok {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, 0, fmt.Errorf("invalid before=%q, want YYYY-MM-DD", raw)
		}
		filter.Before = t
	}

	maxResults := int64(defaultMessagePageSize)
	if raw, ok := c.GetQuery("max"); ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			return filter, 0, fmt.Errorf("invalid max=%q", raw)
		}
		maxResults = n
	}

	return filter, maxResults, nil
}
