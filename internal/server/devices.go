package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
)

func (s *Server) RegisterDevice(c *gin.Context) {
	var req pushdomain.RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	device, err := s.deviceSvc.RegisterToken(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": device})
}

func (s *Server) UnregisterDevice(c *gin.Context) {
	if err := s.deviceSvc.UnregisterToken(c.Request.Context(), c.Param("token")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListDevices returns the caller's own registrations. Token values are never
// echoed back.
func (s *Server) ListDevices(c *gin.Context) {
	devices, err := s.deviceSvc.ListTokens(c.Request.Context(), c.GetString(contextUserIDKey))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": devices})
}
