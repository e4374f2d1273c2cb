package llm

import (
	"context"

	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/models"
)

// Catalog reads model configs and provider credentials from storage.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) ModelByID(ctx context.Context, id uint64) (*models.ModelConfig, error) {
	var m models.ModelConfig
	if err := c.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Catalog) DefaultModel(ctx context.Context) (*models.ModelConfig, error) {
	var m models.ModelConfig
	if err := c.db.WithContext(ctx).
		Where("is_default = ?", true).
		Order("id ASC").
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Catalog) FirstModel(ctx context.Context) (*models.ModelConfig, error) {
	var m models.ModelConfig
	if err := c.db.WithContext(ctx).Order("id ASC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Catalog) CredentialByID(ctx context.Context, id uint64) (*models.ProviderCredential, error) {
	var p models.ProviderCredential
	if err := c.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
