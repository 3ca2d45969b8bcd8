package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"repair-shop-service/internal/auth"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/service"
	"repair-shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	lineItems *service.LineItemManager
	tickets   *service.TicketService
	catalog   *service.CatalogService
	tokens    *auth.TokenService
	checks    map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	lineItems *service.LineItemManager,
	tickets *service.TicketService,
	catalog *service.CatalogService,
	tokens *auth.TokenService,
	checks map[string]ReadinessCheck,
) *Handler {
	return &Handler{
		lineItems: lineItems,
		tickets:   tickets,
		catalog:   catalog,
		tokens:    tokens,
		checks:    checks,
		logger:    util.GetLogger(),
	}
}

var (
	staff           = []models.Role{models.RoleAdmin, models.RoleTechnician, models.RoleReceptionist}
	partViewers     = []models.Role{models.RoleAdmin, models.RoleTechnician, models.RoleReceptionist, models.RoleStoreManager}
	partEditors     = []models.Role{models.RoleAdmin, models.RoleStoreManager, models.RoleTechnician}
	partDeleters    = []models.Role{models.RoleAdmin, models.RoleStoreManager}
	partItemEditors = []models.Role{models.RoleAdmin, models.RoleTechnician}
	partItemViewers = []models.Role{models.RoleAdmin, models.RoleTechnician, models.RoleReceptionist, models.RoleCustomer}
	ticketOpeners   = []models.Role{models.RoleAdmin, models.RoleReceptionist}
	repairEditors   = []models.Role{models.RoleAdmin, models.RoleTechnician}
)

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.authenticate())
	{
		v1.POST("/ticket-parts", requireRoles(partItemEditors...), h.attachPart)
		v1.GET("/ticket-parts", requireRoles(partItemEditors...), h.listAllTicketParts)
		v1.GET("/ticket-parts/:id", requireRoles(partItemViewers...), h.getTicketPart)
		v1.PATCH("/ticket-parts/:id", requireRoles(partItemEditors...), h.updateTicketPart)
		v1.DELETE("/ticket-parts/:id", requireRoles(partItemEditors...), h.detachPart)

		v1.POST("/ticket-repairs", requireRoles(staff...), h.attachRepair)
		v1.GET("/ticket-repairs/:id", requireRoles(staff...), h.getTicketRepair)
		v1.PATCH("/ticket-repairs/:id", requireRoles(staff...), h.updateTicketRepair)
		v1.DELETE("/ticket-repairs/:id", requireRoles(staff...), h.detachRepair)

		v1.POST("/tickets", requireRoles(ticketOpeners...), h.createTicket)
		v1.GET("/tickets", h.listTickets)
		v1.GET("/tickets/:id", h.getTicket)
		v1.GET("/tickets/:id/parts", requireRoles(partItemViewers...), h.listTicketParts)
		v1.GET("/tickets/:id/repairs", requireRoles(staff...), h.listTicketRepairs)
		v1.PATCH("/tickets/:id/status", requireRoles(staff...), h.updateTicketStatus)
		v1.PATCH("/tickets/:id/technician", requireRoles(ticketOpeners...), h.assignTechnician)
		v1.DELETE("/tickets/:id", requireRoles(ticketOpeners...), h.deleteTicket)

		v1.POST("/parts", requireRoles(partEditors...), h.createPart)
		v1.GET("/parts", requireRoles(partViewers...), h.listParts)
		v1.GET("/parts/:id", h.getPart)
		v1.PATCH("/parts/:id", requireRoles(partEditors...), h.updatePart)
		v1.DELETE("/parts/:id", requireRoles(partDeleters...), h.deletePart)
		v1.GET("/parts/:id/stock", requireRoles(partViewers...), h.getStock)

		v1.POST("/repairs", requireRoles(repairEditors...), h.createRepair)
		v1.GET("/repairs", h.listRepairs)
		v1.GET("/repairs/:id", h.getRepair)
		v1.PATCH("/repairs/:id", requireRoles(repairEditors...), h.updateRepair)
		v1.DELETE("/repairs/:id", requireRoles(repairEditors...), h.deleteRepair)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
