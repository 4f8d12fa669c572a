package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleFeed streams one snapshot per change of the named feed. A snapshot
// that could not be computed is sent as an "error" event and the stream stays
// open for the next change.
func (a *API) handleFeed(c *gin.Context) {
	ctx := c.Request.Context()
	topic := c.Param("topic")
	feed, err := a.service.Feed(ctx, topic)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-feed:
			if !ok {
				return false
			}
			if snap.Err != nil {
				a.log.WithError(snap.Err).WithField("feed", topic).Warn("feed snapshot failed")
				c.SSEvent("error", gin.H{"error": "snapshot unavailable"})
				return true
			}
			c.SSEvent(topic, snap.Value)
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}
