package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/authcore"
)

// authResultKey is the gin context key holding the *authcore.AuthResult.
const authResultKey = "authcore.result"

// Gin is [Require] as a gin handler.
func Gin(engine *authcore.Engine, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := check(c.Request, engine, permission, c.ClientIP())
		if err != nil {
			status := authcore.StatusFor(err)
			if status == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", bearerChallenge)
			}
			c.AbortWithStatusJSON(status, authcore.NewErrorBody(err))
			return
		}

		c.Set(authResultKey, res)
		c.Request = c.Request.WithContext(authcore.WithAuthResult(c.Request.Context(), res))
		c.Next()
	}
}

// GinAuthenticated is [RequireAuthenticated] as a gin handler.
func GinAuthenticated(engine *authcore.Engine) gin.HandlerFunc {
	return Gin(engine, "")
}

// GinAuthResult returns the result stored by [Gin].
func GinAuthResult(c *gin.Context) (*authcore.AuthResult, bool) {
	v, ok := c.Get(authResultKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*authcore.AuthResult)
	return res, ok && res != nil
}
