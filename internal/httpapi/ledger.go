package httpapi

import (
	"net/http"
	"strconv"

	"reviewpoints-platform/pkg/db/pagination"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/services/ledger"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, pageInfo, err := h.ledger.ListTransactions(c.Request.Context(), ledger.ListQuery{
		AccountID: c.Param("id"),
		Type:      ledger.TransactionType(c.Query("type")),
		Pagination: pagination.Pagination{
			Cursor: c.Query("cursor"),
			Limit:  limit,
		},
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": entries, "page": pageInfo})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	result, err := h.ledger.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type adjustRequest struct {
	AccountID   string `json:"account_id" binding:"required"`
	Delta       int64  `json:"delta" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) AdminAdjust(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := h.ledger.AdminAdjust(c.Request.Context(), ledger.AdjustParams{
		AccountID:   req.AccountID,
		Delta:       req.Delta,
		Description: req.Description,
		ActorID:     identity.Account.ID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

type earnRequest struct {
	AccountID   string `json:"account_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

func (h *Handler) Earn(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req earnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := h.ledger.Earn(c.Request.Context(), ledger.EarnParams{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
		ActorID:     identity.Account.ID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

type transferRequest struct {
	FromAccountID string `json:"from_account_id" binding:"required"`
	ToAccountID   string `json:"to_account_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required"`
	Description   string `json:"description"`
}

func (h *Handler) Transfer(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	if err := h.ledger.Transfer(c.Request.Context(), ledger.TransferParams{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Description:   req.Description,
		ActorID:       identity.Account.ID,
	}); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
