package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/somnialabs/somnia/backend/internal/tables"
)

const streamHeartbeatInterval = 15 * time.Second

// handleStream bridges the table change feed onto a server-sent event
// stream. Authentication accepts a bearer header or an access_token
// query parameter, which is what EventSource clients can send.
func (h *httpHandler) handleStream(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream_unavailable"})
		return
	}
	if _, err := h.streamIdentity(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	ctx := c.Request.Context()
	dreamEvents, cancelDreams := h.feed.Subscribe(ctx, tables.TableDreams)
	defer cancelDreams()
	commentEvents, cancelComments := h.feed.Subscribe(ctx, tables.TableComments)
	defer cancelComments()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-dreamEvents:
			if !open {
				return
			}
			h.writeStreamEvent(c, flusher, event)
		case event, open := <-commentEvents:
			if !open {
				return
			}
			h.writeStreamEvent(c, flusher, event)
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *httpHandler) writeStreamEvent(c *gin.Context, flusher http.Flusher, event tables.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode stream event", zap.Error(err))
		return
	}
	if _, err := c.Writer.WriteString("event: " + event.Table + "-" + string(event.Type) + "\n"); err != nil {
		return
	}
	if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		return
	}
	flusher.Flush()
}

func (h *httpHandler) streamIdentity(c *gin.Context) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		return "", errInvalidAuthorization
	}
	return h.tokens.ValidateToken(token)
}
