package api

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/evofunk/internal/scheduler"
	"github.com/ajitpratap0/evofunk/internal/store"
)

var startTime = time.Now()

// Root handler
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "EvoFunk Engine API",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth returns a simple health check (for load balancers)
func (s *Server) handleGetHealth(c *gin.Context) {
	if err := s.engine.Health(c.Request.Context()); err != nil {
		log.Warn().Err(err).Msg("Store health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "store unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"time":       time.Now().UTC(),
		"uptime":     time.Since(startTime).Seconds(),
		"goroutines": runtime.NumGoroutine(),
	})
}

// handleListStrategies returns every registered strategy, optionally
// filtered by lifecycle status
func (s *Server) handleListStrategies(c *gin.Context) {
	strategies := s.engine.ListStrategies()

	if status := c.Query("status"); status != "" {
		filtered := strategies[:0]
		for _, st := range strategies {
			if string(st.Status) == status {
				filtered = append(filtered, st)
			}
		}
		strategies = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"strategies": strategies,
		"count":      len(strategies),
	})
}

// handleGetStrategy returns one strategy by ID
func (s *Server) handleGetStrategy(c *gin.Context) {
	st, err := s.engine.GetStrategy(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, st)
}

// handleGetLifecycle returns tier, protection and dwell details for a strategy
func (s *Server) handleGetLifecycle(c *gin.Context) {
	info, err := s.engine.GetLifecycleStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// handleGetHistory returns a page of evolution events with impact analysis
func (s *Server) handleGetHistory(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page parameter"})
		return
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size parameter"})
		return
	}

	history, err := s.engine.GetEvolutionHistory(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, history)
}

// handleEvolveNow forces an immediate evolution attempt for a strategy.
// The call blocks until the attempt resolves and reports the outcome.
func (s *Server) handleEvolveNow(c *gin.Context) {
	result := s.engine.EvolveNow(c.Request.Context(), c.Param("id"))

	status := http.StatusOK
	if !result.Success {
		switch result.Code {
		case scheduler.ReasonNotFound:
			status = http.StatusNotFound
		case scheduler.ReasonBusy:
			status = http.StatusConflict
		default:
			status = http.StatusUnprocessableEntity
		}
	}

	c.JSON(status, result)
}

// handleGetSummary returns the system-wide population summary
func (s *Server) handleGetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetSystemSummary(c.Request.Context()))
}
