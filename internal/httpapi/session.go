package httpapi

import (
	"strings"

	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/pkg/middleware"
	"reviewpoints-platform/services/account"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Session resolves the bearer token into a server-side identity. The actor's
// role is taken from the account row; nothing the client sends is trusted.
func Session(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		identity, err := accounts.ResolveToken(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Set(middleware.RoleKey, string(identity.Account.Role))
		c.Next()
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentIdentity(c *gin.Context) (*account.Identity, error) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, errutil.Unauthorized("no session", nil)
	}
	identity, ok := v.(*account.Identity)
	if !ok || identity == nil || identity.Account == nil {
		return nil, errutil.Unauthorized("no session", nil)
	}
	return identity, nil
}
