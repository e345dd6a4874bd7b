package repository

import (
	"context"
	"courtcam/apperr"
	"courtcam/constant"
	"courtcam/entities"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssetRepository interface {
	GetDB() *gorm.DB
	Migrate(ctx context.Context) error
	CreateAsset(ctx context.Context, asset *entities.Asset) error
	FindAssetById(ctx context.Context, id uuid.UUID) (*entities.Asset, error)
	ListAssets(ctx context.Context, kind constant.AssetKind, limit int) ([]*entities.Asset, error)
	IssueToken(ctx context.Context, assetId uuid.UUID) (*entities.InputToken, error)
	ConsumeToken(ctx context.Context, token uuid.UUID) (*entities.Asset, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) AssetRepository {
	return &repo{
		db: db,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB().WithContext(ctx).AutoMigrate(&entities.Asset{}, &entities.InputToken{})
}

func (r *repo) CreateAsset(ctx context.Context, asset *entities.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	return r.GetDB().WithContext(ctx).Create(asset).Error
}

func (r *repo) FindAssetById(ctx context.Context, id uuid.UUID) (*entities.Asset, error) {
	asset := &entities.Asset{}
	err := r.GetDB().WithContext(ctx).First(asset, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "asset", id)
	}

	return asset, nil
}

func (r *repo) ListAssets(ctx context.Context, kind constant.AssetKind, limit int) ([]*entities.Asset, error) {
	var assets []*entities.Asset
	q := r.GetDB().WithContext(ctx).Order("created_at DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *repo) IssueToken(ctx context.Context, assetId uuid.UUID) (*entities.InputToken, error) {
	if _, err := r.FindAssetById(ctx, assetId); err != nil {
		return nil, err
	}
	token := &entities.InputToken{Token: uuid.New(), AssetID: assetId}
	if err := r.GetDB().WithContext(ctx).Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

// ConsumeToken deletes the token and returns its asset. Of several concurrent
// consumers of one token exactly one succeeds; the others get ErrNotFound.
func (r *repo) ConsumeToken(ctx context.Context, token uuid.UUID) (*entities.Asset, error) {
	var asset *entities.Asset
	err := r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		it := &entities.InputToken{}
		if err := tx.First(it, "token = ?", token).Error; err != nil {
			return notFound(err, "input token", token)
		}
		res := tx.Where("token = ?", token).Delete(&entities.InputToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("input token %s: %w", token, apperr.ErrNotFound)
		}

		asset = &entities.Asset{}
		if err := tx.First(asset, "id = ?", it.AssetID).Error; err != nil {
			return notFound(err, "asset", it.AssetID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, apperr.ErrNotFound)
	}
	return err
}
