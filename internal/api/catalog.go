package api

import (
	"net/http"

	"repair-shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createPart(c *gin.Context) {
	var req service.CreatePartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	part, err := h.catalog.CreatePart(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusCreated, part)
}

func (h *Handler) listParts(c *gin.Context) {
	parts, err := h.catalog.ListParts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, parts)
}

func (h *Handler) getPart(c *gin.Context) {
	part, err := h.catalog.GetPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, part)
}

func (h *Handler) updatePart(c *gin.Context) {
	var req service.UpdateCatalogPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	part, err := h.catalog.UpdatePart(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, part)
}

func (h *Handler) deletePart(c *gin.Context) {
	if err := h.catalog.DeletePart(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getStock(c *gin.Context) {
	level, err := h.catalog.GetStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, level)
}

func (h *Handler) createRepair(c *gin.Context) {
	var req service.CreateRepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	repair, err := h.catalog.CreateRepair(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusCreated, repair)
}

func (h *Handler) listRepairs(c *gin.Context) {
	repairs, err := h.catalog.ListRepairs(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, repairs)
}

func (h *Handler) getRepair(c *gin.Context) {
	repair, err := h.catalog.GetRepair(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, repair)
}

func (h *Handler) updateRepair(c *gin.Context) {
	var req service.UpdateCatalogRepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	repair, err := h.catalog.UpdateRepair(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, repair)
}

func (h *Handler) deleteRepair(c *gin.Context) {
	if err := h.catalog.DeleteRepair(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
