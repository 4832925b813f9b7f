package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/authcore"
)

// requireOrigin rejects state-changing requests without an Origin header
// unless allowMissing is set. Requests with an Origin are left to CORS.
func requireOrigin(allowMissing bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allowMissing || c.GetHeader("Origin") != "" {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, authcore.NewErrorBody(authcore.ErrForbidden))
	}
}
