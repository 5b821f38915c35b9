package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type streamHandler struct {
	dir     StreamDirectory
	buffers BufferSource
}

func (h *streamHandler) health(c *gin.Context) {
	snap, err := h.dir.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"webrtc_available":  true,
		"active_streams":    snap.StreamIDs(),
		"senders":           snap.Senders,
		"receivers":         snap.Receivers,
		"connected_clients": snap.Connections,
	})
}

func (h *streamHandler) status(c *gin.Context) {
	snap, err := h.dir.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_streams": snap.StreamIDs()})
}

// splitExt strips the configured extension; any other extension is kept as
// part of the id and will not match a stream.
func (h *streamHandler) splitExt(name string) (string, string) {
	if h.buffers == nil {
		return name, ""
	}
	ext := h.buffers.Format().Ext
	if ext != "" && strings.HasSuffix(name, "."+ext) {
		return strings.TrimSuffix(name, "."+ext), ext
	}
	return name, ""
}

func (h *streamHandler) stream(c *gin.Context) {
	name := c.Param("id")
	if name == "status" {
		h.status(c)
		return
	}
	base, ext := h.splitExt(name)
	if base == "latest" {
		h.latest(c, ext)
		return
	}
	h.serve(c, domain.StreamID(base))
}

func (h *streamHandler) latest(c *gin.Context, ext string) {
	snap, err := h.dir.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	id, ok := snap.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stream"})
		return
	}
	target := "/stream/" + string(id)
	if ext != "" {
		target += "." + ext
	}
	c.Redirect(http.StatusFound, target)
}

// serve replays the buffer, then follows the live edge until the stream is
// released or the client leaves.
func (h *streamHandler) serve(c *gin.Context, id domain.StreamID) {
	if h.buffers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	buf, ok := h.buffers.Buffer(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	logger := log.With().Str("module", "adapters.http").Str("stream_id", string(id)).Str("client", c.GetString(clientTokenKey)).Logger()
	logger.Info().Msg("http listener attached")
	defer logger.Info().Msg("http listener detached")

	c.Header("Content-Type", h.buffers.Format().ContentType)
	c.Header("Cache-Control", "no-cache, no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)

	replay, off := buf.Snapshot()
	if _, err := c.Writer.Write(replay); err != nil {
		return
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		changed := buf.Changed()
		data, next, closed := buf.ReadFrom(off)
		off = next
		if len(data) > 0 {
			if _, err := c.Writer.Write(data); err != nil {
				return
			}
			c.Writer.Flush()
			continue
		}
		if closed {
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}
