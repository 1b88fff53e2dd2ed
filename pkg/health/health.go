package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{db: p.DB, redis: p.Redis}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: "healthy", Message: "OK"})
}

// Readiness pings every attached dependency and reports 503 when any of them
// fails, so the load balancer drains the instance instead of serving errors.
func (h *health) Readiness(c *gin.Context) {
	var deps []Dependency

	if h.db != nil {
		deps = append(deps, probe(h.db.Name(), func() error {
			sql, err := h.db.DB()
			if err != nil {
				return err
			}
			return sql.Ping()
		}))
	}
	if h.redis != nil {
		deps = append(deps, probe("redis", func() error {
			return h.redis.Ping(c.Request.Context()).Err()
		}))
	}

	resp := &Health{Status: "healthy", Message: "OK", Deps: deps}
	code := http.StatusOK
	for _, dep := range deps {
		if dep.Status != "healthy" {
			resp.Status = "unhealthy"
			resp.Message = dep.Name + " unavailable"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, resp)
}

func probe(name string, ping func() error) Dependency {
	dep := Dependency{Name: name, Status: "healthy", Message: "OK"}
	if err := ping(); err != nil {
		dep.Status = "unhealthy"
		dep.Message = err.Error()
	}
	return dep
}
