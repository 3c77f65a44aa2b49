package server

import "github.com/gin-gonic/gin"

// ServeWebSocket hands the authenticated request to the socket gateway, which
// owns the connection from here on.
func (s *Server) ServeWebSocket(c *gin.Context) {
	s.gateway.ServeHTTP(c.Writer, c.Request)
}
