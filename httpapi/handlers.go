package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/middleware"
)

var errMissingRefreshToken = errors.Join(authcore.ErrRejected, authcore.ErrTokenMalformed)

type meResponse struct {
	Subject     string    `json:"subject"`
	Role        string    `json:"role"`
	SessionID   string    `json:"sessionId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Permissions []string  `json:"permissions"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

type loginRequest struct {
	Subject string `json:"subject" binding:"required"`
}

func (s *Server) fail(c *gin.Context, err error) {
	status := authcore.StatusFor(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	c.AbortWithStatusJSON(status, authcore.NewErrorBody(err))
}

func (s *Server) bindRefreshToken(c *gin.Context) (string, bool) {
	var req authcore.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		s.fail(c, errMissingRefreshToken)
		return "", false
	}
	return req.RefreshToken, true
}

func (s *Server) refresh(c *gin.Context) {
	token, ok := s.bindRefreshToken(c)
	if !ok {
		return
	}
	ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
	pair, err := s.engine.Refresh(ctx, token)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) logout(c *gin.Context) {
	token, ok := s.bindRefreshToken(c)
	if !ok {
		return
	}
	ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
	if err := s.engine.Logout(ctx, token); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) logoutAll(c *gin.Context) {
	res, _ := middleware.GinAuthResult(c)
	ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
	if err := s.engine.LogoutAll(ctx, res.Subject); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	res, _ := middleware.GinAuthResult(c)
	perms := s.engine.Permissions(res.Role)
	if perms == nil {
		perms = []string{}
	}
	c.JSON(http.StatusOK, meResponse{
		Subject:     res.Subject,
		Role:        res.Role,
		SessionID:   res.SessionID,
		ExpiresAt:   res.ExpiresAt,
		Permissions: perms,
	})
}

func (s *Server) deactivate(c *gin.Context) {
	actor, _ := middleware.GinAuthResult(c)
	subject := c.Param("id")
	ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())

	err := s.engine.DeactivatePrincipal(ctx, subject)
	switch {
	case errors.Is(err, authcore.ErrPrincipalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": "principal not found"}})
		return
	case err != nil:
		s.logger.Error("deactivate principal failed", "error", err, "subject", subject, "actor", actor.Subject)
		s.fail(c, err)
		return
	}
	s.logger.Info("principal deactivated", "subject", subject, "actor", actor.Subject)
	c.Status(http.StatusNoContent)
}

func (s *Server) changeRole(c *gin.Context) {
	actor, _ := middleware.GinAuthResult(c)
	subject := c.Param("id")

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "invalid_request", "message": "role required"}})
		return
	}

	err := s.engine.ChangeRole(c.Request.Context(), subject, req.Role)
	switch {
	case errors.Is(err, authcore.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "invalid_request", "message": "unknown role"}})
		return
	case errors.Is(err, authcore.ErrPrincipalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": "principal not found"}})
		return
	case err != nil:
		s.logger.Error("change role failed", "error", err, "subject", subject, "actor", actor.Subject)
		s.fail(c, err)
		return
	}
	s.logger.Info("role changed", "subject", subject, "role", req.Role, "actor", actor.Subject)
	c.Status(http.StatusNoContent)
}

// devLogin signs in a known principal without credentials. Development only.
func (s *Server) devLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "invalid_request", "message": "subject required"}})
		return
	}

	ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
	p, err := s.principals.GetPrincipal(ctx, req.Subject)
	if err != nil {
		if errors.Is(err, authcore.ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": "principal not found"}})
			return
		}
		s.fail(c, err)
		return
	}

	pair, err := s.engine.IssueSession(ctx, p)
	switch {
	case errors.Is(err, authcore.ErrPrincipalInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"kind": "forbidden", "message": "principal inactive"}})
		return
	case err != nil:
		s.logger.Error("dev login failed", "error", err, "subject", req.Subject)
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}
