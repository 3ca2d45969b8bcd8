package api

import (
	"net/http"

	"repair-shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// attachPart handles attaching a part to a ticket
func (h *Handler) attachPart(c *gin.Context) {
	var req service.AttachPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader(idempotencyHeader)

	item, err := h.lineItems.AttachPart(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusCreated, item)
}

// listAllTicketParts supports ?page=&limit=
func (h *Handler) listAllTicketParts(c *gin.Context) {
	page, limit, err := pageQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items, err := h.lineItems.ListAllTicketParts(c.Request.Context(), page, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, items)
}

func (h *Handler) getTicketPart(c *gin.Context) {
	item, err := h.lineItems.GetTicketPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, item)
}

func (h *Handler) updateTicketPart(c *gin.Context) {
	var req service.UpdatePartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.lineItems.UpdatePart(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, item)
}

func (h *Handler) detachPart(c *gin.Context) {
	if _, err := h.lineItems.DetachPart(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// attachRepair handles attaching a repair to a ticket
func (h *Handler) attachRepair(c *gin.Context) {
	var req service.AttachRepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader(idempotencyHeader)

	item, err := h.lineItems.AttachRepair(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusCreated, item)
}

func (h *Handler) getTicketRepair(c *gin.Context) {
	item, err := h.lineItems.GetTicketRepair(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, item)
}

func (h *Handler) updateTicketRepair(c *gin.Context) {
	var req service.UpdateRepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.lineItems.UpdateRepair(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, item)
}

func (h *Handler) detachRepair(c *gin.Context) {
	if _, err := h.lineItems.DetachRepair(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listTicketParts(c *gin.Context) {
	items, err := h.lineItems.ListTicketParts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, items)
}

func (h *Handler) listTicketRepairs(c *gin.Context) {
	items, err := h.lineItems.ListTicketRepairs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, items)
}
