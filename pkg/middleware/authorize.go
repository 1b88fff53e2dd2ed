package middleware

import (
	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RoleKey is where the session middleware stores the resolved actor role.
const RoleKey = "actor_role"

var EnforcerModule = fx.Module("access.control",
	fx.Provide(NewEnforcer),
)

type EnforcerParams struct {
	fx.In
	Config *config.Config
}

// NewEnforcer loads the casbin model and policy from config. Returns nil when
// access control is not configured, in which case Authorize passes everything.
func NewEnforcer(p EnforcerParams) *casbin.Enforcer {
	ac := p.Config.AccessControl
	if ac.Model == "" || ac.Policy == "" {
		zap.L().Warn("[AccessControl] model/policy not configured, authorization disabled")
		return nil
	}

	enforcer, err := casbin.NewEnforcer(ac.Model, ac.Policy)
	if err != nil {
		zap.L().Error("[AccessControl] failed to load enforcer", zap.Error(err))
		return nil
	}

	return enforcer
}

// Authorize enforces role -> route permissions. The role comes from the
// server-side session resolution, never from the client.
func Authorize(enforcer *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enforcer == nil {
			c.Next()
			return
		}

		role, _ := c.Get(RoleKey)
		roleName, _ := role.(string)

		ok, err := enforcer.Enforce(roleName, c.FullPath(), c.Request.Method)
		if err != nil {
			_ = c.Error(errutil.Internal("authorization check failed", err))
			c.Abort()
			return
		}

		if !ok {
			_ = c.Error(errutil.Forbidden("access denied", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
