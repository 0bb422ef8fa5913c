package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/orchestrator"
	"github.com/zulandar/mailroom/internal/summary"
)

const (
	defaultNoticeLimit  = 20
	defaultNoticeWindow = 24 * time.Hour
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, o *orchestrator.Orchestrator, poll time.Duration) {
	api := router.Group("/api")
	api.GET("/status", handleStatus(o))
	api.GET("/dashboard", handleDashboard(o))
	api.GET("/agents", handleAgents(o))
	api.GET("/agents/:name/workload", handleWorkload(o))
	api.GET("/agents/:name/summary", handleSummary(o))
	api.GET("/load-balancing", handleLoadBalancing(o))
	api.GET("/priorities", handlePriorities(o))
	api.GET("/notices", handleNotices(o))
	api.POST("/notices/:id/ack", handleAck(o))
	api.GET("/events", handleSSE(o, poll))
}

// fail writes err as JSON with a status derived from the mailbox error
// taxonomy.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mailbox.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, mailbox.ErrValidation):
		status = http.StatusBadRequest
	case mailbox.IsStorageError(err):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func handleStatus(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := o.SystemStatus(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func handleDashboard(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := o.Dashboard(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func handleAgents(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agents, err := o.Store().ListAgents(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
	}
}

func handleWorkload(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := o.AnalyzeAgent(c.Request.Context(), c.Param("name"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func handleSummary(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode, err := summary.ParseMode(c.Query("mode"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		name := c.Param("name")
		if _, err := o.Store().GetAgent(ctx, name); err != nil {
			fail(c, err)
			return
		}
		text, err := o.Summaries().Summarize(ctx, name, summary.DefaultMaxMessages, mode)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agent": name, "mode": mode, "summary": text})
	}
}

func handleLoadBalancing(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := o.Distributor().LoadBalancing(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

func handlePriorities(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := o.Priorities().Distribution(c.Request.Context(), c.Query("agent"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func handleNotices(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultNoticeLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		window := defaultNoticeWindow
		if v := c.Query("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration"})
				return
			}
			window = d
		}
		recent := o.Notices().Recent(limit, window)
		c.JSON(http.StatusOK, gin.H{
			"notices":   recent,
			"count":     len(recent),
			"overdue":   o.Notices().CheckOverdue(),
			"analytics": o.Notices().Analytics(1),
		})
	}
}

func handleAck(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		by := c.Query("by")
		if by == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "by is required"})
			return
		}
		if !o.Notices().Acknowledge(id, by) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notice " + id + " not found"})
			return
		}
		rec, _ := o.Notices().Get(id)
		c.JSON(http.StatusOK, rec)
	}
}
