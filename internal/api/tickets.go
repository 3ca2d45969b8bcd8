package api

import (
	"net/http"
	"strconv"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

type updateStatusRequest struct {
	Status models.TicketStatus `json:"status" binding:"required"`
}

type assignTechnicianRequest struct {
	TechnicianID *string `json:"technician_id"`
}

func (h *Handler) createTicket(c *gin.Context) {
	var req service.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ticket, err := h.tickets.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusCreated, ticket)
}

func (h *Handler) getTicket(c *gin.Context) {
	details, err := h.tickets.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, details)
}

// listTickets supports ?status=&branch=&page=&limit=
func (h *Handler) listTickets(c *gin.Context) {
	page, limit, err := pageQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	filter := models.TicketFilter{
		Status: models.TicketStatus(c.Query("status")),
		Branch: c.Query("branch"),
		Page:   page,
		Limit:  limit,
	}

	tickets, err := h.tickets.ListTickets(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, tickets)
}

func (h *Handler) updateTicketStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ticket, err := h.tickets.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, ticket)
}

func (h *Handler) assignTechnician(c *gin.Context) {
	var req assignTechnicianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ticket, err := h.tickets.AssignTechnician(c.Request.Context(), c.Param("id"), req.TechnicianID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, ticket)
}

func (h *Handler) deleteTicket(c *gin.Context) {
	if _, err := h.tickets.DeleteTicket(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pageQuery reads page and limit; the service clamps both
func pageQuery(c *gin.Context) (int, int, error) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(key, "must be an integer")
	}
	return v, nil
}
