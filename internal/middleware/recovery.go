package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovers from handler panics and returns a 500 instead of
// dropping the connection
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get("request_id")
				log.Printf("[%v] panic recovered: %v", requestID, err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
