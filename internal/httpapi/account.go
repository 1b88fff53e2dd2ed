package httpapi

import (
	"net/http"

	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/services/account"

	"github.com/gin-gonic/gin"
)

type createAccountRequest struct {
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required"`
	ParentID string `json:"parent_id"`
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	acc, err := h.accounts.CreateAccount(c.Request.Context(), account.CreateParams{
		Name:     req.Name,
		Role:     account.Role(req.Role),
		ParentID: req.ParentID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, acc)
}

func (h *Handler) GetAccount(c *gin.Context) {
	acc, err := h.accounts.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (h *Handler) ListChildren(c *gin.Context) {
	children, err := h.accounts.ListChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": children})
}

func (h *Handler) UpdateAccountStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	if err := h.accounts.UpdateStatus(c.Request.Context(), c.Param("id"), account.Status(req.Status)); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// IssueSession exchanges an account id for an opaque session token. Intended
// for the trusted identity frontend, not for end users directly.
func (h *Handler) IssueSession(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	token, err := h.accounts.IssueSession(c.Request.Context(), req.AccountID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

type impersonateRequest struct {
	TargetID string   `json:"target_id" binding:"required"`
	Reason   string   `json:"reason" binding:"required"`
	Scopes   []string `json:"scopes"`
}

func (h *Handler) Impersonate(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req impersonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	token, grant, err := h.accounts.Impersonate(c.Request.Context(), account.ImpersonateParams{
		GrantorID: identity.Account.ID,
		TargetID:  req.TargetID,
		Reason:    req.Reason,
		Scopes:    req.Scopes,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "grant": grant})
}

func (h *Handler) EndImpersonation(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if err := h.accounts.EndImpersonation(c.Request.Context(), token); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListGrants(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	grants, err := h.accounts.ListGrants(c.Request.Context(), identity.Account.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}
