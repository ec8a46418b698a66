package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const contextFunctionKey = "function"

var corsAllowedHeaders = strings.Join([]string{
	"authorization",
	"x-client-info",
	"apikey",
	"content-type",
	HeaderCronSecret,
}, ", ")

// CORS is permissive: callers are cron jobs and admin tooling on other origins.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Function tags the request with the handler name and counts the outcome.
func (s *Server) Function(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextFunctionKey, name)
		c.Next()

		status := c.Writer.Status()
		if !c.Writer.Written() {
			if lastErr := c.Errors.Last(); lastErr != nil {
				status, _ = mapError(lastErr.Err)
			}
		}
		s.obsMetrics.RecordFunctionCall(c.Request.Context(), name, status)
	}
}
