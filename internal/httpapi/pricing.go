package httpapi

import (
	"net/http"

	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/services/pricing"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListPricing(c *gin.Context) {
	prices, err := h.pricing.ListPricing(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pricing": prices})
}

func (h *Handler) UpsertPrice(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		UnitPrice int64 `json:"unit_price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	price, err := h.pricing.UpsertPrice(c.Request.Context(), pricing.UpsertParams{
		ContentType: c.Param("content_type"),
		UnitPrice:   req.UnitPrice,
		ActorID:     identity.Account.ID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, price)
}

func (h *Handler) DeactivatePrice(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.pricing.Deactivate(c.Request.Context(), c.Param("content_type"), identity.Account.ID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
