package httpapi

import (
	"net/http"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/health"
	"reviewpoints-platform/pkg/middleware"
	"reviewpoints-platform/services/account"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/pricing"
	"reviewpoints-platform/services/review"
	reviewtask "reviewpoints-platform/services/review/task"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, NewRouter),
)

// Handler groups every route's dependencies behind one receiver.
type Handler struct {
	accounts *account.Service
	pricing  *pricing.Service
	ledger   *ledger.Service
	review   *review.Service
	tasks    *reviewtask.Service
}

type HandlerParams struct {
	fx.In
	Accounts *account.Service
	Pricing  *pricing.Service
	Ledger   *ledger.Service
	Review   *review.Service
	Tasks    *reviewtask.Service `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		accounts: p.Accounts,
		pricing:  p.Pricing,
		ledger:   p.Ledger,
		review:   p.Review,
		tasks:    p.Tasks,
	}
}

type RouterParams struct {
	fx.In
	Config   *config.Config
	Handler  *Handler
	Health   health.HealthService
	Enforcer *casbin.Enforcer `optional:"true"`
	Accounts *account.Service
}

func NewRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	h := p.Handler

	// Session issuance is the only authenticated-surface entry point without a
	// token; everything else sits behind the session middleware.
	r.POST("/v1/sessions", h.IssueSession)

	v1 := r.Group("/v1", Session(p.Accounts), middleware.Authorize(p.Enforcer))
	{
		v1.POST("/accounts", h.CreateAccount)
		v1.GET("/accounts/:id", h.GetAccount)
		v1.GET("/accounts/:id/children", h.ListChildren)
		v1.PATCH("/accounts/:id/status", h.UpdateAccountStatus)

		v1.POST("/impersonations", h.Impersonate)
		v1.DELETE("/impersonations", h.EndImpersonation)
		v1.GET("/impersonations", h.ListGrants)

		v1.GET("/pricing", h.ListPricing)
		v1.PUT("/pricing/:content_type", h.UpsertPrice)
		v1.DELETE("/pricing/:content_type", h.DeactivatePrice)

		v1.GET("/accounts/:id/balance", h.GetBalance)
		v1.GET("/accounts/:id/transactions", h.ListTransactions)
		v1.GET("/accounts/:id/verify", h.VerifyChain)
		v1.POST("/ledger/adjustments", h.AdminAdjust)
		v1.POST("/ledger/earnings", h.Earn)
		v1.POST("/ledger/transfers", h.Transfer)

		v1.POST("/submissions", h.CreateDraft)
		v1.GET("/submissions", h.ListSubmissions)
		v1.GET("/submissions/:id", h.GetSubmission)
		v1.POST("/submissions/:id/submit", h.SubmitForApproval)
		v1.POST("/submissions/:id/approve", h.Approve)
		v1.POST("/submissions/:id/reject", h.Reject)
		v1.POST("/submissions/:id/cancel", h.Cancel)
		v1.POST("/submissions/:id/resubmit", h.Resubmit)

		v1.POST("/submissions/:id/delete-requests", h.RequestDelete)
		v1.POST("/submissions/:id/delete-requests/approve", h.ApproveDelete)
		v1.POST("/submissions/:id/delete-requests/reject", h.RejectDelete)

		v1.POST("/monitor/observations", h.MonitorObservation)
		v1.POST("/tasks/expiry-sweep", h.TriggerExpirySweep)
	}

	return r
}
