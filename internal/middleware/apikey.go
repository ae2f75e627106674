package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vistone/fingerprint-gateway/internal/service"
)

// APIKeyValidator resolves the caller's API key into an identity and
// tier. Requests without a key pass through anonymously and fall back
// to IP-based limiting downstream.
func APIKeyValidator(apiKeyService *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			c.Next()
			return
		}

		apiKey, err := apiKeyService.Validate(c.Request.Context(), key)
		if err != nil || apiKey == nil || !apiKey.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "API key is invalid or inactive",
			})
			return
		}

		c.Set("api_key_id", apiKey.ID.String())
		c.Set("identity", apiKey.ID.String())
		c.Set("tier", apiKey.Tier)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			apiKeyService.UpdateLastUsed(ctx, apiKey.ID)
		}()

		c.Next()
	}
}
