package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vistone/fingerprint-gateway/internal/models"
	"github.com/vistone/fingerprint-gateway/internal/storage"
	"gorm.io/gorm"
)

// APIKeyRepository owns the api_keys table. Lookups on the hot path go
// through FindActiveByHash; everything else serves the admin API.
type APIKeyRepository struct {
	db *storage.Postgres
}

func NewAPIKeyRepository(db *storage.Postgres) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(apiKey).Error
}

// FindActiveByHash resolves a hashed key to its record, skipping revoked
// keys. Returns nil without error when no active key matches.
func (r *APIKeyRepository) FindActiveByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ?", hash).
		Where("is_active = ?", true).
		First(&apiKey).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &apiKey, err
}

// Get fetches a key by id regardless of active state, so the admin API can
// inspect revoked keys too. Returns nil without error when absent.
func (r *APIKeyRepository) Get(ctx context.Context, id string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&apiKey).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &apiKey, err
}

// List returns every key, newest first.
func (r *APIKeyRepository) List(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&keys).Error

	return keys, err
}

func (r *APIKeyRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Touch stamps last_used_at; called off the request path after validation.
func (r *APIKeyRepository) Touch(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

func (r *APIKeyRepository) Delete(ctx context.Context, id string) error {
	return r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.APIKey{}).Error
}

// TierCounts returns how many active keys exist per tier, in one grouped
// query. Feeds the key inventory on the admin list endpoint.
func (r *APIKeyRepository) TierCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Tier  string
		Count int64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Select("tier, count(*) as count").
		Where("is_active = ?", true).
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Tier] = row.Count
	}

	return counts, nil
}
