package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vistone/fingerprint-gateway/internal/quota"
	"github.com/vistone/fingerprint-gateway/internal/service"
)

type APIKeyHandler struct {
	apiKeyService *service.APIKeyService
	policy        *quota.TierPolicy
}

func NewAPIKeyHandler(apiKeyService *service.APIKeyService, policy *quota.TierPolicy) *APIKeyHandler {
	return &APIKeyHandler{apiKeyService: apiKeyService, policy: policy}
}

type createKeyRequest struct {
	Name string `json:"name" binding:"required"`
	Tier string `json:"tier"`
}

func (h *APIKeyHandler) validTier(name string) bool {
	for _, t := range h.policy.Tiers() {
		if string(t) == name {
			return true
		}
	}
	return false
}

func (h *APIKeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if req.Tier == "" {
		req.Tier = string(quota.TierFree)
	}
	if !h.validTier(req.Tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier: " + req.Tier})
		return
	}

	createdBy, _ := c.Get("user_email")
	creator, _ := createdBy.(string)

	key, err := h.apiKeyService.Create(c.Request.Context(), req.Name, creator, req.Tier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create API key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"name":    req.Name,
		"tier":    req.Tier,
		"message": "store this key now, it will not be shown again",
	})
}

func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.apiKeyService.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list API keys"})
		return
	}

	tierCounts, err := h.apiKeyService.TierCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to count API keys"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":        keys,
		"count":       len(keys),
		"tier_counts": tierCounts,
	})
}

func (h *APIKeyHandler) Get(c *gin.Context) {
	key, err := h.apiKeyService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to fetch API key"})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "API key not found"})
		return
	}

	c.JSON(http.StatusOK, key)
}

type updateKeyRequest struct {
	Name     *string `json:"name"`
	Tier     *string `json:"tier"`
	IsActive *bool   `json:"is_active"`
}

func (h *APIKeyHandler) Update(c *gin.Context) {
	var req updateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Tier != nil {
		if !h.validTier(*req.Tier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier: " + *req.Tier})
			return
		}
		updates["tier"] = *req.Tier
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "no fields to update"})
		return
	}

	if err := h.apiKeyService.Update(c.Request.Context(), c.Param("id"), updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update API key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key updated"})
}

func (h *APIKeyHandler) Delete(c *gin.Context) {
	if err := h.apiKeyService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete API key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}
