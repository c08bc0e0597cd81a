package middleware

import "github.com/gin-gonic/gin"

// APIHeaders sets hardening headers for JSON-only responses. Delivery
// listings must be revalidated (see the ETag on GET deliveries).
func APIHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-cache")
		c.Next()
	}
}
