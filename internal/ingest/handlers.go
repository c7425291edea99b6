package ingest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callsight/pkg/logger"
)

// Handlers exposes the provider webhook endpoints.
//
// Every identifiable delivery is acknowledged with 200 regardless of what
// the pipeline decided about it: rejecting a webhook makes the provider
// retry indefinitely. Only bodies we cannot decode at all are refused.

type Handlers struct {
	Service *Service
	Now     func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type parseFunc func(*http.Request, time.Time) (Event, error)

func (h Handlers) handle(c *gin.Context, parse parseFunc) {
	log := logger.FromGin(c)

	ev, err := parse(c.Request, h.now().UTC())
	switch {
	case errors.Is(err, ErrMissingCallID):
		// Unroutable, but still acknowledged. Record it through the service
		// so the anomaly shows up alongside the others.
		_ = h.Service.Handle(c.Request.Context(), ev)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case err != nil:
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.Service.Handle(c.Request.Context(), ev); err != nil {
		// Pipeline errors are ours, not the provider's; ack and log.
		log.Error("event handling failed", "call_id", ev.CallID, "kind", ev.Kind, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) HandleStatus(c *gin.Context)        { h.handle(c, ParseStatusEvent) }
func (h Handlers) HandleRecording(c *gin.Context)     { h.handle(c, ParseRecordingEvent) }
func (h Handlers) HandleConference(c *gin.Context)    { h.handle(c, ParseConferenceEvent) }
func (h Handlers) HandleTranscription(c *gin.Context) { h.handle(c, ParseTranscriptionEvent) }
