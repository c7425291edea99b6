package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callsight/internal/auth"
	"callsight/internal/records"
	"callsight/internal/registry"
	"callsight/internal/reporting"
	"callsight/internal/strategy"

	"github.com/gin-gonic/gin"
)

// Handlers groups the dashboard read API for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Registry  *registry.Registry
	Strategy  *strategy.Engine
	Records   records.Store
	Reporting *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Live calls ---

// ListLiveCalls returns the active sessions, oldest call first. A call drops
// off this list the moment it reaches a terminal state; the retention window
// only keeps the session around for late webhook merges and GetCall.
func (h Handlers) ListLiveCalls(c *gin.Context) {
	sessions := h.Registry.ListActive()
	c.JSON(http.StatusOK, gin.H{"calls": sessions, "count": len(sessions)})
}

// GetCall returns one call. The live registry wins; calls already evicted
// fall through to the persisted record.
func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")

	sess, err := h.Registry.Get(callID)
	if err == nil {
		c.JSON(http.StatusOK, sess)
		return
	}
	if !errors.Is(err, registry.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}

	if h.Records != nil {
		rec, err := h.Records.GetCall(c.Request.Context(), callID)
		if err == nil {
			c.JSON(http.StatusOK, rec)
			return
		}
		if !errors.Is(err, records.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
}

// GetStrategy returns the current strategy for a call, if one has been
// produced yet.
func (h Handlers) GetStrategy(c *gin.Context) {
	callID := c.Param("call_id")
	strat, ok := h.Strategy.CurrentStrategy(callID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no strategy for call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "strategy": strat})
}

func (h Handlers) GetRequirements(c *gin.Context) {
	callID := c.Param("call_id")
	reqs := h.Strategy.Requirements(callID)
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "requirements": reqs, "count": len(reqs)})
}

// --- History ---

// ListCallHistory returns persisted call records in a time window. Defaults
// to the last 24 hours.
func (h Handlers) ListCallHistory(c *gin.Context) {
	from, to, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.Records.ListCalls(c.Request.Context(), from, to)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "count": len(rows)})
}

func (h Handlers) CallsSummary(c *gin.Context) {
	from, to, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// parseRange reads optional RFC3339 "from"/"to" query params.
func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}
