package middleware

import (
	"errors"
	"net/http"

	"reviewpoints-platform/pkg/errutil"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Error translates errors attached to the gin context into a JSON body. Domain
// errors carry their own CoreStatus; anything unrecognised is an internal error.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		err := last.Err

		var base errutil.BaseError
		if errors.As(err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		var coder interface{ Status() errutil.CoreStatus }
		if errors.As(err, &coder) {
			status := coder.Status()
			c.JSON(status.HTTPStatus(), gin.H{
				"error": gin.H{
					"code":    status,
					"message": err.Error(),
				},
			})
			return
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    errutil.StatusNotFound,
					"message": "resource not found",
				},
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": err.Error(),
			},
		})
	}
}
